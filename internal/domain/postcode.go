package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Postcode is a validated, normalized UK postcode. The canonical form is
// uppercase with a single space before the inward code ("TW8 0FD"), which is
// what gets used as a cache key component.
type Postcode string

// Outward code: area letters + district digit(s), optionally a sub-district
// letter. Inward code: sector digit + two unit letters.
var postcodeRe = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]?[0-9][A-Z]{2}$`)

// ParsePostcode normalizes and validates a raw postcode string.
func ParsePostcode(raw string) (Postcode, error) {
	compact := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if compact == "" {
		return "", fmt.Errorf("postcode is empty")
	}
	if !postcodeRe.MatchString(compact) {
		return "", fmt.Errorf("invalid UK postcode %q", raw)
	}
	// The inward code is always the last three characters.
	return Postcode(compact[:len(compact)-3] + " " + compact[len(compact)-3:]), nil
}

func (p Postcode) String() string {
	return string(p)
}
