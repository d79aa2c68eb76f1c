// Package scoring combines the similarity primitives into one explainable confidence value.
package scoring

import (
	"math"
	"strings"

	"bizgraph/backend/internal/similarity"
)

// Reason keys reported in Result.Reasons
const (
	FieldName    = "name"
	FieldPhone   = "phone"
	FieldAddress = "address"
)

// Weights are the relative importance of each field when present on both sides.
type Weights struct {
	Name    float64 `json:"name"`
	Phone   float64 `json:"phone"`
	Address float64 `json:"address"`
}

// DefaultWeights sum to 1.0 when every field is present.
var DefaultWeights = Weights{Name: 0.5, Phone: 0.35, Address: 0.15}

// Fields are the comparable attributes of one entity. Empty means absent.
type Fields struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Result is a composite score and the per-field scores that produced it.
type Result struct {
	Score   float64            `json:"score"`
	Reasons map[string]float64 `json:"reasons"`
}

// Scorer computes composite similarity with fixed weights and phone rules.
type Scorer struct {
	weights        Weights
	addressWeights similarity.AddressWeights
	phones         similarity.PhoneNormalizer
}

// NewScorer returns a scorer; zero weights select DefaultWeights.
func NewScorer(weights Weights, countryCode string) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Scorer{
		weights:        weights,
		addressWeights: similarity.DefaultAddressWeights,
		phones:         similarity.NewPhoneNormalizer(countryCode),
	}
}

// Score compares a and b. Name always counts; phone and address count only when both sides
// carry a value, and the final score is divided by the weights actually applied, so absent
// data never reads as a mismatch.
func (s *Scorer) Score(a, b Fields) Result {
	reasons := make(map[string]float64, 3)

	nameScore := similarity.NameSimilarity(a.Name, b.Name)
	reasons[FieldName] = nameScore
	total := s.weights.Name * nameScore
	applied := s.weights.Name

	if present(a.Phone) && present(b.Phone) {
		phoneScore := 0.0
		if s.phones.Match(a.Phone, b.Phone) {
			phoneScore = 1.0
		}
		reasons[FieldPhone] = phoneScore
		total += s.weights.Phone * phoneScore
		applied += s.weights.Phone
	}

	if present(a.Address) && present(b.Address) {
		addrScore := similarity.AddressSimilarity(a.Address, b.Address, s.addressWeights)
		reasons[FieldAddress] = addrScore
		total += s.weights.Address * addrScore
		applied += s.weights.Address
	}

	if applied <= 0 {
		return Result{Score: 0, Reasons: reasons}
	}
	return Result{Score: round4(clamp01(total / applied)), Reasons: reasons}
}

// CompositeSimilarity scores two entities with DefaultWeights and the default country code.
func CompositeSimilarity(a, b Fields) Result {
	return NewScorer(DefaultWeights, similarity.DefaultCountryCode).Score(a, b)
}

func present(v string) bool {
	return strings.TrimSpace(v) != ""
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
