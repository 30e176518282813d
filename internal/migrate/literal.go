package migrate

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gestock/dbgate/internal/dbconfig"
)

// quoteIdent quotes an identifier for the given engine. The RPC backend
// fronts Postgres, so it shares the double-quote form.
func quoteIdent(kind dbconfig.Kind, name string) string {
	if kind == dbconfig.KindMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualify(kind dbconfig.Kind, schema, table string) string {
	return quoteIdent(kind, schema) + "." + quoteIdent(kind, table)
}

// renderLiteral renders one value as a SQL literal for the target
// engine. Data rows travel as generated text, so everything the row
// decoder can produce must have a rendering here.
func renderLiteral(kind dbconfig.Kind, v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if kind == dbconfig.KindMySQL {
			if x {
				return "1"
			}
			return "0"
		}
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return quoteString(kind, x.UTC().Format("2006-01-02 15:04:05.999999"))
	case []byte:
		if kind == dbconfig.KindMySQL {
			return "X'" + hex.EncodeToString(x) + "'"
		}
		return `'\x` + hex.EncodeToString(x) + "'"
	case string:
		return quoteString(kind, x)
	default:
		return quoteString(kind, fmt.Sprint(x))
	}
}

// quoteString escapes embedded quotes by doubling them. MySQL also
// treats backslashes as escapes inside string literals, so those are
// doubled there; Postgres standard strings take them literally.
func quoteString(kind dbconfig.Kind, s string) string {
	if kind == dbconfig.KindMySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
