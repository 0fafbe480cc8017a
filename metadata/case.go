package metadata

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableName derives the default table for an entity name: snake case, pluralized
// on the last segment ("LineItem" -> "line_items").
func TableName(entity string) string {
	snake := toSnake(entity)
	if snake == "" {
		return ""
	}
	idx := strings.LastIndexByte(snake, '_')
	if idx < 0 {
		return inflection.Plural(snake)
	}
	return snake[:idx+1] + inflection.Plural(snake[idx+1:])
}

// toSnake converts the provided string to snake_case using ASCII-aware rules.
// Punctuation is collapsed into single underscores so derived table names and
// cache region prefixes stay safe for prefix matching.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if (unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower) && !lastUnderscore {
					b.WriteByte('_')
					lastUnderscore = true
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false

		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
