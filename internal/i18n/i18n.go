// Package i18n resolves localized text out of language-keyed maps.
//
// Resolution is a plain ordered lookup: requested language, then the
// configured default, then whichever language happens to be present. No
// state, no reflection.
package i18n

import (
	"sort"

	"github.com/openclass/quiz-session-service/internal/models"
)

// DefaultLanguage is the base of the fallback chain when no explicit
// default is configured.
const DefaultLanguage = "en"

// Resolve returns the best available translation for lang. The fallback
// chain is lang -> fallback -> first available (lowest language code, so
// the result is deterministic). Returns "" for empty maps.
func Resolve(text models.TextMap, lang, fallback string) string {
	if len(text) == 0 {
		return ""
	}
	if lang != "" {
		if v, ok := text[lang]; ok && v != "" {
			return v
		}
	}
	if fallback != "" && fallback != lang {
		if v, ok := text[fallback]; ok && v != "" {
			return v
		}
	}
	langs := make([]string, 0, len(text))
	for l, v := range text {
		if v != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		return ""
	}
	sort.Strings(langs)
	return text[langs[0]]
}
