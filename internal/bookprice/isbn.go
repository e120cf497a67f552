package bookprice

import "strings"

// NormalizeISBN strips dashes and whitespace from an ISBN candidate.
func NormalizeISBN(isbn string) string {
	var b strings.Builder
	b.Grow(len(isbn))
	for _, r := range isbn {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidISBN13 reports whether the input is a valid 13-digit ISBN after
// normalization. Malformed input returns false, never an error.
func ValidISBN13(isbn string) bool {
	s := NormalizeISBN(isbn)
	if len(s) != 13 {
		return false
	}
	sum := 0
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		digit := int(r - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	return sum%10 == 0
}
