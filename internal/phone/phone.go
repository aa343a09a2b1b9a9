// Package phone normalizes user-entered phone numbers.
package phone

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/deliberation-platform/identity/internal/domain"
)

const unknownRegion = "ZZ"

// Parsed is a normalized phone number plus the metadata kept next to its hash.
type Parsed struct {
	Number domain.PhoneNumber
	// CountryCallingCode is the numeric calling code without "+", e.g. "33".
	CountryCallingCode string
	// RegionCode is the ISO 3166-1 alpha-2 region, empty when it cannot be
	// inferred from the number.
	RegionCode    string
	LastTwoDigits string
}

// Parse normalizes raw into E.164. defaultCallingCode ("1", "+33", ...) is
// used for numbers entered without an international prefix.
func Parse(raw, defaultCallingCode string) (Parsed, error) {
	region, err := regionForCallingCode(defaultCallingCode)
	if err != nil {
		return Parsed{}, err
	}

	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return Parsed{}, fmt.Errorf("parse phone number: %w", domain.ErrInvalidPhoneNumber)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return Parsed{}, fmt.Errorf("phone number has an impossible length: %w", domain.ErrInvalidPhoneNumber)
	}

	number, err := domain.NewPhoneNumber(phonenumbers.Format(num, phonenumbers.E164))
	if err != nil {
		return Parsed{}, err
	}

	regionCode := phonenumbers.GetRegionCodeForNumber(num)
	if regionCode == unknownRegion {
		regionCode = ""
	}

	return Parsed{
		Number:             number,
		CountryCallingCode: strconv.Itoa(int(num.GetCountryCode())),
		RegionCode:         regionCode,
		LastTwoDigits:      number.LastTwoDigits(),
	}, nil
}

func regionForCallingCode(code string) (string, error) {
	code = strings.TrimPrefix(strings.TrimSpace(code), "+")
	if code == "" {
		return "", nil
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("default calling code %q: %w", code, domain.ErrInvalidInput)
	}
	region := phonenumbers.GetRegionCodeForCountryCode(n)
	if region == unknownRegion {
		return "", fmt.Errorf("unknown default calling code %q: %w", code, domain.ErrInvalidInput)
	}
	return region, nil
}
