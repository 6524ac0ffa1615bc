package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Config holds naming overrides for words the inflection rules get wrong.
// Keys are matched case-insensitively.
type Config struct {
	// PluralOverrides maps singular to plural, e.g. {"person": "people"}.
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`
	// SingularOverrides maps plural to singular, e.g. {"data": "datum"}.
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig returns a config without overrides.
func DefaultConfig() Config {
	return Config{PluralOverrides: map[string]string{}, SingularOverrides: map[string]string{}}
}

// Pluralize converts a singular word to its plural form. Overrides are matched
// case-insensitively; the first letter's case of the input is preserved.
func (n *Namer) Pluralize(word string) string {
	if override, ok := lookupOverride(n.config.PluralOverrides, word); ok {
		return override
	}
	return inflection.Plural(word)
}

// Singularize converts a plural word to its singular form.
func (n *Namer) Singularize(word string) string {
	if override, ok := lookupOverride(n.config.SingularOverrides, word); ok {
		return override
	}
	return inflection.Singular(word)
}

func lookupOverride(overrides map[string]string, word string) (string, bool) {
	if override, ok := overrides[word]; ok {
		return override, true
	}
	override, ok := overrides[strings.ToLower(word)]
	if !ok {
		return "", false
	}
	if word != "" && word[:1] != strings.ToLower(word[:1]) {
		return upperFirst(override), true
	}
	return override, true
}
