// pkg/normalize/datefmt.go
package normalize

import "strings"

// patternTokens maps PostgreSQL-style date format tokens to Go reference
// layout fragments. Longer tokens must be matched before their prefixes.
var patternTokens = []struct {
	pg     string
	layout string
}{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH24", "15"},
	{"HH12", "03"},
	{"HH", "15"},
	{"MI", "04"},
	{"SS", "05"},
	{"TZ", "MST"},
}

// TranslatePattern converts a PostgreSQL-style date pattern (YYYY/MM/DD,
// YYYY-MM-DD HH24:MI:SS, ...) into a Go time layout. Unknown characters
// pass through as literals.
func TranslatePattern(pattern string) string {
	var b strings.Builder
	upper := strings.ToUpper(pattern)

	i := 0
	for i < len(upper) {
		matched := false
		for _, tok := range patternTokens {
			if strings.HasPrefix(upper[i:], tok.pg) {
				b.WriteString(tok.layout)
				i += len(tok.pg)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}

	return b.String()
}

// hasTimeTokens reports whether the pattern carries a time-of-day part.
func hasTimeTokens(pattern string) bool {
	upper := strings.ToUpper(pattern)
	for _, tok := range []string{"HH24", "HH12", "HH", "MI", "SS"} {
		if strings.Contains(upper, tok) {
			return true
		}
	}
	return false
}

// dateOnlyLayout trims a translated layout down to its date part, used as
// a fallback when a date-time pattern is configured but the value carries
// no time component.
func dateOnlyLayout(layout string) string {
	for _, sep := range []string{" ", "T"} {
		if idx := strings.Index(layout, sep); idx > 0 {
			return layout[:idx]
		}
	}
	return layout
}
