// Package dbconfig provides backend configuration types used by both
// the config and driver packages. This package exists to break the
// circular import between config and driver packages.
package dbconfig

import "fmt"

// Kind identifies one of the three interchangeable backend families.
type Kind string

const (
	// KindRPC is the managed cloud engine reachable only through named
	// remote procedures.
	KindRPC Kind = "rpc"

	// KindMySQL is the self-hosted MySQL/MariaDB engine.
	KindMySQL Kind = "mysql"

	// KindPostgres is the self-hosted PostgreSQL engine.
	KindPostgres Kind = "postgres"
)

// ParseKind normalizes a backend kind string, accepting the aliases the
// operator-facing payloads historically used.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "rpc", "supabase", "remote":
		return KindRPC, nil
	case "mysql", "mariadb", "maria":
		return KindMySQL, nil
	case "postgres", "postgresql", "pg":
		return KindPostgres, nil
	}
	return "", fmt.Errorf("unknown backend kind %q", s)
}

// IsSQL reports whether the kind accepts arbitrary SQL statements.
func (k Kind) IsSQL() bool {
	return k == KindMySQL || k == KindPostgres
}

// Config holds the connection settings for one backend. It is immutable
// once constructed and compared by value to detect no-op switches.
type Config struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// SQL backends.
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	User     string `yaml:"user,omitempty" json:"user,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// RPC backend.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// Defaults for the SQL backends, applied by Normalize.
const (
	DefaultMySQLPort    = 3306
	DefaultPostgresPort = 5432
	DefaultDatabase     = "stock_management"
)

// Normalize returns a copy with engine defaults filled in.
func (c Config) Normalize() Config {
	switch c.Kind {
	case KindMySQL:
		if c.Port == 0 {
			c.Port = DefaultMySQLPort
		}
		if c.Database == "" {
			c.Database = DefaultDatabase
		}
	case KindPostgres:
		if c.Port == 0 {
			c.Port = DefaultPostgresPort
		}
		if c.Database == "" {
			// Tenant schemas all live inside the single postgres database.
			c.Database = "postgres"
		}
	}
	return c
}

// Validate checks that the config carries the parameters its kind needs.
func (c Config) Validate() error {
	switch c.Kind {
	case KindRPC:
		if c.Endpoint == "" {
			return fmt.Errorf("rpc backend requires an endpoint")
		}
		if c.APIKey == "" {
			return fmt.Errorf("rpc backend requires an api_key")
		}
	case KindMySQL, KindPostgres:
		if c.Host == "" {
			return fmt.Errorf("%s backend requires a host", c.Kind)
		}
		if c.User == "" {
			return fmt.Errorf("%s backend requires a user", c.Kind)
		}
	default:
		return fmt.Errorf("unknown backend kind %q", c.Kind)
	}
	return nil
}

// Equal reports whether two configs would reach the same backend with the
// same credentials. The registry uses it to skip no-op switches.
func (c Config) Equal(other Config) bool {
	return c == other
}

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "****"
	}
	if c.APIKey != "" {
		c.APIKey = "****"
	}
	return c
}

// String implements fmt.Stringer without leaking credentials.
func (c Config) String() string {
	switch c.Kind {
	case KindRPC:
		return fmt.Sprintf("rpc(%s)", c.Endpoint)
	default:
		return fmt.Sprintf("%s(%s:%d/%s)", c.Kind, c.Host, c.Port, c.Database)
	}
}
