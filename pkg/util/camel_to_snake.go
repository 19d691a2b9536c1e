package util

import (
	"strings"
	"unicode"
)

// CamelToSnakeCase maps Go field names to column names: RetentionRan becomes
// retention_ran, HTTPStatus becomes http_status.
func CamelToSnakeCase(str string) string {
	runes := []rune(str)

	var b strings.Builder
	b.Grow(len(str) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
