package typemap

import (
	"testing"

	"github.com/gestock/dbgate/internal/dbconfig"
)

func TestToCanonical(t *testing.T) {
	tests := []struct {
		native  string
		dialect dbconfig.Kind
		want    Canonical
		exact   bool
	}{
		{"int", dbconfig.KindMySQL, Canonical{Kind: Integer}, true},
		{"int(11)", dbconfig.KindMySQL, Canonical{Kind: Integer}, true},
		{"bigint", dbconfig.KindPostgres, Canonical{Kind: Integer}, true},
		{"integer", dbconfig.KindPostgres, Canonical{Kind: Integer}, true},
		{"serial", dbconfig.KindPostgres, Canonical{Kind: Integer}, true},
		{"tinyint(1)", dbconfig.KindMySQL, Canonical{Kind: Boolean}, true},
		{"tinyint(4)", dbconfig.KindMySQL, Canonical{Kind: Integer}, true},
		{"decimal(10,2)", dbconfig.KindMySQL, Canonical{Kind: Decimal, Precision: 10, Scale: 2}, true},
		{"numeric(19,4)", dbconfig.KindPostgres, Canonical{Kind: Decimal, Precision: 19, Scale: 4}, true},
		{"double", dbconfig.KindMySQL, Canonical{Kind: Decimal}, true},
		{"double precision", dbconfig.KindPostgres, Canonical{Kind: Decimal}, true},
		{"boolean", dbconfig.KindPostgres, Canonical{Kind: Boolean}, true},
		{"datetime", dbconfig.KindMySQL, Canonical{Kind: Timestamp}, true},
		{"timestamp without time zone", dbconfig.KindPostgres, Canonical{Kind: Timestamp}, true},
		{"date", dbconfig.KindMySQL, Canonical{Kind: Timestamp}, true},
		{"bytea", dbconfig.KindPostgres, Canonical{Kind: Binary}, true},
		{"longblob", dbconfig.KindMySQL, Canonical{Kind: Binary}, true},
		{"varbinary(16)", dbconfig.KindMySQL, Canonical{Kind: Binary}, true},
		{"varchar(255)", dbconfig.KindMySQL, Canonical{Kind: Text}, true},
		{"character varying(100)", dbconfig.KindPostgres, Canonical{Kind: Text}, true},
		{"jsonb", dbconfig.KindPostgres, Canonical{Kind: Text}, true},
		{"uuid", dbconfig.KindPostgres, Canonical{Kind: Text}, true},
		{"enum('a','b')", dbconfig.KindMySQL, Canonical{Kind: Text}, true},

		// Unknown types coerce to Text but are reported lossy.
		{"geometry", dbconfig.KindMySQL, Canonical{Kind: Text}, false},
		{"tsvector", dbconfig.KindPostgres, Canonical{Kind: Text}, false},
		{"hstore", dbconfig.KindPostgres, Canonical{Kind: Text}, false},
	}

	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			got, exact := ToCanonical(tt.native, tt.dialect)
			if got != tt.want {
				t.Errorf("ToCanonical(%q) = %v, want %v", tt.native, got, tt.want)
			}
			if exact != tt.exact {
				t.Errorf("ToCanonical(%q) exact = %v, want %v", tt.native, exact, tt.exact)
			}
		})
	}
}

func TestToDDL(t *testing.T) {
	tests := []struct {
		name   string
		c      Canonical
		target dbconfig.Kind
		want   string
	}{
		{"integer to pg", Canonical{Kind: Integer}, dbconfig.KindPostgres, "bigint"},
		{"integer to mysql", Canonical{Kind: Integer}, dbconfig.KindMySQL, "bigint"},
		{"decimal to pg", Canonical{Kind: Decimal, Precision: 10, Scale: 2}, dbconfig.KindPostgres, "numeric(10,2)"},
		{"decimal to mysql", Canonical{Kind: Decimal, Precision: 10, Scale: 2}, dbconfig.KindMySQL, "numeric(10,2)"},
		{"unsized decimal to pg", Canonical{Kind: Decimal}, dbconfig.KindPostgres, "double precision"},
		{"unsized decimal to mysql", Canonical{Kind: Decimal}, dbconfig.KindMySQL, "double"},
		{"boolean to pg", Canonical{Kind: Boolean}, dbconfig.KindPostgres, "boolean"},
		{"boolean to mysql", Canonical{Kind: Boolean}, dbconfig.KindMySQL, "tinyint(1)"},
		{"timestamp to pg", Canonical{Kind: Timestamp}, dbconfig.KindPostgres, "timestamp"},
		{"timestamp to mysql", Canonical{Kind: Timestamp}, dbconfig.KindMySQL, "datetime"},
		{"binary to pg", Canonical{Kind: Binary}, dbconfig.KindPostgres, "bytea"},
		{"binary to mysql", Canonical{Kind: Binary}, dbconfig.KindMySQL, "longblob"},
		{"text to pg", Canonical{Kind: Text}, dbconfig.KindPostgres, "text"},
		// The RPC backend renders like postgres.
		{"boolean to rpc", Canonical{Kind: Boolean}, dbconfig.KindRPC, "boolean"},
		{"binary to rpc", Canonical{Kind: Binary}, dbconfig.KindRPC, "bytea"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToDDL(tt.c, tt.target); got != tt.want {
				t.Errorf("ToDDL(%v, %s) = %q, want %q", tt.c, tt.target, got, tt.want)
			}
		})
	}
}

func TestCanonicalString(t *testing.T) {
	c := Canonical{Kind: Decimal, Precision: 12, Scale: 3}
	if c.String() != "decimal(12,3)" {
		t.Errorf("String() = %q", c.String())
	}
	if (Canonical{Kind: Timestamp}).String() != "timestamp" {
		t.Error("timestamp String() mismatch")
	}
}

func TestRoundTrip(t *testing.T) {
	// A type discovered on one engine, rendered for the other, and
	// re-discovered there must keep its canonical kind.
	natives := []struct {
		native string
		from   dbconfig.Kind
		to     dbconfig.Kind
	}{
		{"int(11)", dbconfig.KindMySQL, dbconfig.KindPostgres},
		{"decimal(10,2)", dbconfig.KindMySQL, dbconfig.KindPostgres},
		{"datetime", dbconfig.KindMySQL, dbconfig.KindPostgres},
		{"boolean", dbconfig.KindPostgres, dbconfig.KindMySQL},
		{"bytea", dbconfig.KindPostgres, dbconfig.KindMySQL},
		{"text", dbconfig.KindPostgres, dbconfig.KindMySQL},
	}

	for _, tt := range natives {
		c1, _ := ToCanonical(tt.native, tt.from)
		ddl := ToDDL(c1, tt.to)
		c2, _ := ToCanonical(ddl, tt.to)
		if c1.Kind != c2.Kind {
			t.Errorf("%s: canonical kind changed across round trip: %v -> %q -> %v",
				tt.native, c1.Kind, ddl, c2.Kind)
		}
	}
}
