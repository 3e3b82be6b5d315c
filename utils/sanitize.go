package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var textPolicy = bluemonday.StrictPolicy()

// SanitizeText strips all markup from user text and trims it to maxRunes.
// Entities produced by the policy are unescaped so stored text stays plain.
func SanitizeText(input string, maxRunes int) string {
	clean := strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(input)))
	if maxRunes > 0 {
		if rs := []rune(clean); len(rs) > maxRunes {
			clean = string(rs[:maxRunes])
		}
	}
	return clean
}
