package repositorycache

import (
	"reflect"
	"strings"
	"unicode"
)

// entityName derives a key prefix from the type name of T. Pointers and slices
// are unwrapped and generic type arguments dropped, so *[]Page[int] is "page".
func entityName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	name, _, _ := strings.Cut(t.Name(), "[")
	if name = toSnake(name); name != "" {
		return name
	}
	return "entity"
}

// toSnake lower cases s and joins its words with single underscores. Runes
// that are neither letters nor digits only separate words, so the result is
// always a valid key segment.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	sep := false
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			sep = b.Len() > 0
			continue
		}
		if b.Len() > 0 && !sep && wordStart(runes, i) {
			sep = true
		}
		if sep {
			b.WriteByte('_')
			sep = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// wordStart reports whether runes[i] begins a new word. runes[i-1] is a
// letter or digit.
func wordStart(runes []rune, i int) bool {
	prev, r := runes[i-1], runes[i]
	switch {
	case unicode.IsUpper(r):
		// HTTPRequest splits before the R that starts "Request"
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		return unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)
	case unicode.IsDigit(r):
		return !unicode.IsDigit(prev)
	}
	return false
}
