package tools

import (
	"unicode"
	"unicode/utf8"
)

type printableType interface {
	~string | ~[]byte
}

// IsPrintable returns v with every non printable rune removed, spaces are kept.
// Invalid UTF-8 sequences are dropped as well.
func IsPrintable[T printableType](v T) string {
	s := string(v)
	result := make([]rune, 0, len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsPrint(r) {
			result = append(result, r)
		}
	}
	return string(result)
}
