package textutil

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

// Clean drops non-printable runes, trims the ends and collapses any run of
// whitespace (newlines included) into a single space.
func Clean(s string) string {
	s = removeNonPrintable(s)
	s = strings.TrimSpace(s)
	return innerWhitespace.ReplaceAllString(s, " ")
}

// IsPlaceholder reports whether a cell text carries no information, the
// source site renders some empty cells as a literal backslash-n.
func IsPlaceholder(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == `\n`
}

// CompareIDs orders numeric identifiers numerically and everything else
// lexically, numeric identifiers sort first.
func CompareIDs(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		if an < bn {
			return -1
		}
		if an > bn {
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
