package driver

import (
	"errors"
	"testing"

	"github.com/gestock/dbgate/internal/tenant"
)

func TestGuardSchemaRefs(t *testing.T) {
	id := tenant.ID("2025_bu01")

	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"own schema", "SELECT * FROM 2025_bu01.article", false},
		{"quoted own schema", `SELECT * FROM "2025_bu01".article`, false},
		{"no schema reference", "SELECT 1", false},
		{"repeated own schema", "INSERT INTO 2025_bu01.bl SELECT * FROM 2025_bu01.bl_tmp", false},
		{"other tenant", "SELECT * FROM 2025_bu02.article", true},
		{"other year", "SELECT * FROM 2024_bu01.article", true},
		{"own plus other", "SELECT * FROM 2025_bu01.a JOIN 2025_bu03.b", true},
		{"other tenant in subquery", "SELECT 1 WHERE EXISTS (SELECT 1 FROM 2026_bu05.client)", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GuardSchemaRefs(tt.sql, id)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected cross-tenant error")
				}
				var cte *CrossTenantError
				if !errors.As(err, &cte) {
					t.Errorf("error type = %T, want *CrossTenantError", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"article", "bl_detail", "_tmp", "col$1", "Facture2025"}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "1col", "a b", "x;drop", "a.b", `a"b`, "a`b",
		"verylong" + string(make([]byte, 64))}
	for _, name := range invalid {
		if err := ValidateIdentifier(name); err == nil {
			t.Errorf("ValidateIdentifier(%q) = nil, want error", name)
		}
	}
}
