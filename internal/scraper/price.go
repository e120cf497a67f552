package scraper

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePrice normalizes comma decimal separators to dots and parses the
// result as a float. Thousands separators are not handled here; the store's
// price format regex is expected to isolate a single numeric token.
func parsePrice(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return price, nil
}
