package postgres

import (
	"fmt"
	"strings"

	"github.com/iangow/db2pq/internal/core"
)

// quoteIdent double-quotes an identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// buildSelect renders the extraction query. Identifiers are quoted; the
// where clause is the operator's own SQL and passes through verbatim.
func buildSelect(ref core.TableRef, columns []string, where string, limit int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s.%s",
		strings.Join(quoted, ", "), quoteIdent(ref.Schema), quoteIdent(ref.Table))
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}
