package postgres

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gestock/dbgate/internal/dbconfig"
)

// Dialect implements driver.Dialect for PostgreSQL.
type Dialect struct{}

func (Dialect) Kind() dbconfig.Kind { return dbconfig.KindPostgres }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// BuildDSN renders a postgres connection URL. url.URL escapes the
// userinfo with the rules the URL parser will undo, so credentials
// survive round-tripping.
func BuildDSN(cfg dbconfig.Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}
