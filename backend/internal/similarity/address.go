package similarity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Address is the heuristic decomposition of a free-form address.
// Components are folded (lower-case, no diacritics, single spaces).
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
	Postal  string `json:"postal,omitempty"`
}

// IsZero reports whether parsing found nothing.
func (a Address) IsZero() bool {
	return a == Address{}
}

// AddressWeights weighs the compared components.
type AddressWeights struct {
	Country float64
	City    float64
	Street  float64
}

// DefaultAddressWeights favour country, then city, then street.
var DefaultAddressWeights = AddressWeights{Country: 0.5, City: 0.3, Street: 0.2}

var (
	postalPattern = regexp.MustCompile(`^(?:\d{4,6}(?:-\d{3,5})?|[a-z]{1,2}\d[a-z\d]?\s?\d[a-z]{2})$`)
	addressSplit  = regexp.MustCompile(`[,;\n\r]+`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

var countryAliases = map[string]string{
	"ke":                       "kenya",
	"kenya":                    "kenya",
	"ug":                       "uganda",
	"uganda":                   "uganda",
	"tz":                       "tanzania",
	"tanzania":                 "tanzania",
	"rw":                       "rwanda",
	"rwanda":                   "rwanda",
	"ng":                       "nigeria",
	"nigeria":                  "nigeria",
	"za":                       "south africa",
	"south africa":             "south africa",
	"us":                       "united states",
	"usa":                      "united states",
	"united states":            "united states",
	"united states of america": "united states",
	"uk":                       "united kingdom",
	"gb":                       "united kingdom",
	"great britain":            "united kingdom",
	"united kingdom":           "united kingdom",
	"de":                       "germany",
	"germany":                  "germany",
	"deutschland":              "germany",
	"fr":                       "france",
	"france":                   "france",
	"in":                       "india",
	"india":                    "india",
}

var streetAbbreviations = map[string]string{
	"st":   "street",
	"str":  "street",
	"rd":   "road",
	"ave":  "avenue",
	"av":   "avenue",
	"blvd": "boulevard",
	"ln":   "lane",
	"dr":   "drive",
	"hwy":  "highway",
	"ct":   "court",
}

// ParseAddress splits raw on commas/semicolons/newlines and assigns parts right to left:
// country, region, city, street. A postal code standing alone, or leading/trailing any part
// after the street line, is lifted out.
func ParseAddress(raw string) Address {
	var out Address

	var parts []string
	for _, p := range addressSplit.Split(raw, -1) {
		// the first part is the street line; house numbers there are not postal codes
		first := len(parts) == 0
		p = fold(p)
		if p == "" {
			continue
		}
		if postalPattern.MatchString(p) {
			if out.Postal == "" {
				out.Postal = p
			}
			continue
		}
		if fields := strings.Fields(p); len(fields) > 1 && !first {
			switch {
			case postalPattern.MatchString(fields[len(fields)-1]):
				if out.Postal == "" {
					out.Postal = fields[len(fields)-1]
				}
				p = strings.Join(fields[:len(fields)-1], " ")
			case postalPattern.MatchString(fields[0]):
				if out.Postal == "" {
					out.Postal = fields[0]
				}
				p = strings.Join(fields[1:], " ")
			}
		}
		parts = append(parts, p)
	}

	switch n := len(parts); {
	case n == 0:
	case n == 1:
		if _, ok := countryAliases[parts[0]]; ok {
			out.Country = parts[0]
		} else if strings.ContainsFunc(parts[0], unicode.IsDigit) {
			out.Street = parts[0]
		} else {
			out.City = parts[0]
		}
	case n == 2:
		if _, ok := countryAliases[parts[1]]; ok {
			out.City, out.Country = parts[0], parts[1]
		} else {
			out.Street, out.City = parts[0], parts[1]
		}
	case n == 3:
		out.Street, out.City, out.Country = parts[0], parts[1], parts[2]
	default:
		out.Street = strings.Join(parts[:n-3], ", ")
		out.City, out.Region, out.Country = parts[n-3], parts[n-2], parts[n-1]
	}
	return out
}

// AddressSimilarity compares two raw addresses component by component.
// Only components present on both sides contribute, renormalized by the weights applied;
// when no component is shared the raw strings are compared instead.
func AddressSimilarity(a, b string, w AddressWeights) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	pa, pb := ParseAddress(a), ParseAddress(b)

	var total, applied float64
	if pa.Country != "" && pb.Country != "" && w.Country > 0 {
		if canonicalCountry(pa.Country) == canonicalCountry(pb.Country) {
			total += w.Country
		}
		applied += w.Country
	}
	if pa.City != "" && pb.City != "" && w.City > 0 {
		total += w.City * NameSimilarity(pa.City, pb.City)
		applied += w.City
	}
	if pa.Street != "" && pb.Street != "" && w.Street > 0 {
		total += w.Street * NameSimilarity(expandStreet(pa.Street), expandStreet(pb.Street))
		applied += w.Street
	}

	if applied == 0 {
		return NameSimilarity(fold(a), fold(b))
	}
	return total / applied
}

func canonicalCountry(c string) string {
	if canon, ok := countryAliases[c]; ok {
		return canon
	}
	return c
}

func expandStreet(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if full, ok := streetAbbreviations[strings.TrimSuffix(f, ".")]; ok {
			fields[i] = full
		}
	}
	return strings.Join(fields, " ")
}

// fold lower-cases, strips diacritics and collapses whitespace and stray dots.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	s = strings.ToLower(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.Trim(s, " .")
}
