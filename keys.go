package flagbind

import (
	"sort"
	"strings"
	"unicode"
)

// CamelCase converts a flag key to its camel-cased form. Words break at any
// rune that is not a letter or digit, at lower-to-upper transitions, before
// the last capital of an acronym run ("HTTPServer" -> "http", "server") and
// between letters and digits.
func CamelCase(key string) string {
	words := splitWords(key)
	var b strings.Builder
	b.Grow(len(key))
	for i, w := range words {
		lower := strings.ToLower(w)
		if i == 0 {
			b.WriteString(lower)
			continue
		}
		r := []rune(lower)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func splitWords(s string) []string {
	runes := []rune(s)
	var words []string
	start := -1
	cut := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(runes[start:end]))
		}
		start = -1
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			cut(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := runes[i-1]
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(r),
			unicode.IsDigit(prev) != unicode.IsDigit(r),
			unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			cut(i)
			start = i
		}
	}
	cut(len(runes))

	return words
}

// NormalizeKeys camel-cases every key of flags and returns the map from the
// new keys back to the originals. Keys starting with "$" are dropped. When two
// keys normalize to the same form, the one sorting last wins.
func NormalizeKeys(flags FlagSet) (FlagSet, FlagKeyMap) {
	keys := make([]string, 0, len(flags))
	for key := range flags {
		if strings.HasPrefix(key, reservedPrefix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	normalized := make(FlagSet, len(keys))
	keyMap := make(FlagKeyMap, len(keys))
	for _, key := range keys {
		camel := CamelCase(key)
		normalized[camel] = flags[key]
		keyMap[camel] = key
	}

	return normalized, keyMap
}
