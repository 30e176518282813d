package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gestock/dbgate/internal/dbconfig"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
backend:
  kind: mysql
  host: db.internal
  user: gateway
  password: secret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log defaults not applied: %q %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Backend.Port != dbconfig.DefaultMySQLPort || cfg.Backend.Database != dbconfig.DefaultDatabase {
		t.Errorf("backend not normalized: %+v", cfg.Backend)
	}
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	path := writeConfig(t, `
backend:
  kind: rpc
  endpoint: https://proj.supabase.co
  api_key: from-file
`)
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvListen, ":7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env value", cfg.Backend.APIKey)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want env value", cfg.Listen)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "bad log level",
			body: "log_level: loud\nbackend:\n  kind: mysql\n  host: h\n  user: u\n",
			want: "log_level",
		},
		{
			name: "bad log format",
			body: "log_format: xml\nbackend:\n  kind: mysql\n  host: h\n  user: u\n",
			want: "log_format",
		},
		{
			name: "incomplete backend",
			body: "backend:\n  kind: rpc\n",
			want: "endpoint",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
