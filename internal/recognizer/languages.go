package recognizer

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// DefaultLanguage is used when no language is given.
const DefaultLanguage = "en"

var languages = map[string]string{
	"ca": "Catalan",
	"zh": "Chinese",
	"hr": "Croatian",
	"da": "Danish",
	"nl": "Dutch",
	"en": "English",
	"fi": "Finnish",
	"fr": "French",
	"de": "German",
	"el": "Greek",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"lt": "Lithuanian",
	"mk": "Macedonian",
	"nb": "Norwegian Bokmål",
	"pl": "Polish",
	"pt": "Portuguese",
	"ro": "Romanian",
	"ru": "Russian",
	"sl": "Slovenian",
	"es": "Spanish",
	"sv": "Swedish",
	"uk": "Ukrainian",
}

// Language is a supported language code and its English name.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Languages returns the supported languages sorted by code.
func Languages() []Language {
	out := make([]Language, 0, len(languages))
	for code, name := range languages {
		out = append(out, Language{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// CheckLanguage returns ErrUnsupportedLanguage for unknown codes.
func CheckLanguage(code string) error {
	if _, ok := languages[code]; !ok {
		return fmt.Errorf("%w: %q", types.ErrUnsupportedLanguage, code)
	}
	return nil
}
