package mysql

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/gestock/dbgate/internal/dbconfig"
)

// Dialect implements driver.Dialect for MySQL/MariaDB.
type Dialect struct{}

func (Dialect) Kind() dbconfig.Kind { return dbconfig.KindMySQL }

func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) Placeholder(_ int) string { return "?" }

// BuildDSN renders the DSN through the driver's own config type, so
// credentials need no escaping of our own.
func BuildDSN(cfg dbconfig.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.MultiStatements = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	mc.TLSConfig = tlsMode(cfg.SSLMode)
	return mc.FormatDSN()
}

// tlsMode translates the postgres-style ssl_mode vocabulary onto the
// mysql driver's tls values. "require" asks for encryption without
// certificate verification; the verify modes get full verification.
func tlsMode(mode string) string {
	switch strings.ToLower(mode) {
	case "", "prefer", "preferred":
		return "preferred"
	case "disable", "disabled", "false":
		return "false"
	case "require", "required", "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify_ca", "verify-full", "verify_full", "true":
		return "true"
	default:
		return "preferred"
	}
}
