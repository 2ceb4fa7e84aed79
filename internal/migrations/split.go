package migrations

import "strings"

// SplitStatements splits a script on semicolons that end a statement.
// Semicolons inside quotes or comments do not split, and comment-only
// chunks are dropped.
func SplitStatements(script string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		code  bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" && code {
			out = append(out, stmt)
		}
		cur.Reset()
		code = false
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			code = true
			cur.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			cur.WriteRune('\n')
		case r == ';':
			flush()
		default:
			if !isSpace(r) {
				code = true
			}
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
