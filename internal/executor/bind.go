package executor

import (
	"strconv"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
)

// Rebind rewrites "?" placeholders into the provider's bind syntax.
func Rebind(p introspect.Provider, query string) string {
	if p != introspect.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteIdent quotes an identifier for the provider.
func QuoteIdent(p introspect.Provider, name string) string {
	if p == introspect.MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}
