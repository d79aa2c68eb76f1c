package similarity

import (
	"strings"
	"unicode"
)

// DefaultCountryCode is prepended when a number is written in national format (leading 0)
const DefaultCountryCode = "254"

// MinPhoneDigits is the shortest canonical number (country code included) accepted
const MinPhoneDigits = 9

const phoneSeparators = " -./()\t"

// PhoneNormalizer canonicalizes phone numbers to "+<country code><subscriber digits>".
type PhoneNormalizer struct {
	CountryCode string
}

// NewPhoneNormalizer returns a normalizer for the given default country code ("" selects DefaultCountryCode)
func NewPhoneNormalizer(countryCode string) PhoneNormalizer {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return PhoneNormalizer{CountryCode: countryCode}
}

// Normalize returns the canonical form and whether raw could be read as a phone number.
//
// "+" and "00" prefixes are international; a single leading "0" is national and gets the
// default country code; bare digits are assumed to already include a country code.
func (p PhoneNormalizer) Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	international := strings.HasPrefix(s, "+")
	if international {
		s = s[1:]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune(phoneSeparators, r):
		case unicode.IsSpace(r):
		default:
			return "", false
		}
	}
	digits := b.String()

	if !international {
		switch {
		case strings.HasPrefix(digits, "00"):
			digits = digits[2:]
		case strings.HasPrefix(digits, "0"):
			digits = p.countryCode() + digits[1:]
		}
	}

	if len(digits) < MinPhoneDigits {
		return "", false
	}
	return "+" + digits, true
}

// Match is true iff both numbers normalize and are equal.
func (p PhoneNormalizer) Match(a, b string) bool {
	na, ok := p.Normalize(a)
	if !ok {
		return false
	}
	nb, ok := p.Normalize(b)
	if !ok {
		return false
	}
	return na == nb
}

func (p PhoneNormalizer) countryCode() string {
	if p.CountryCode == "" {
		return DefaultCountryCode
	}
	return p.CountryCode
}

// NormalizePhone canonicalizes raw with the given default country code.
func NormalizePhone(raw, defaultCountryCode string) (string, bool) {
	return NewPhoneNormalizer(defaultCountryCode).Normalize(raw)
}

// PhoneMatch compares two numbers using DefaultCountryCode.
func PhoneMatch(a, b string) bool {
	return NewPhoneNormalizer(DefaultCountryCode).Match(a, b)
}
