package alignment

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	strongWeight = 2
	weakWeight   = 1
)

// KeywordSet is a strong/weak pair of substrings for one polarity.
type KeywordSet struct {
	Strong []string `json:"strong" yaml:"strong"`
	Weak   []string `json:"weak" yaml:"weak"`
}

// Keywords configures the fallback scorer. Matching is by substring on the
// lower-cased, NFC-normalised action text.
type Keywords struct {
	Lawful  KeywordSet `json:"lawful" yaml:"lawful"`
	Chaotic KeywordSet `json:"chaotic" yaml:"chaotic"`
	Good    KeywordSet `json:"good" yaml:"good"`
	Evil    KeywordSet `json:"evil" yaml:"evil"`
	Neutral []string   `json:"neutral" yaml:"neutral"`
}

// IsEmpty reports whether no keyword of any kind is configured.
func (k Keywords) IsEmpty() bool {
	for _, set := range []KeywordSet{k.Lawful, k.Chaotic, k.Good, k.Evil} {
		if len(set.Strong) > 0 || len(set.Weak) > 0 {
			return false
		}
	}
	return len(k.Neutral) == 0
}

// Scorer is the deterministic keyword backstop used when the model supplies
// no alignment signal for a turn. It holds no per-call state and is safe for
// concurrent use.
type Scorer struct {
	keywords Keywords
}

// NewScorer normalises the keyword lists once so Score only has to fold the
// action text.
func NewScorer(keywords Keywords) *Scorer {
	return &Scorer{
		keywords: Keywords{
			Lawful:  normalizeSet(keywords.Lawful),
			Chaotic: normalizeSet(keywords.Chaotic),
			Good:    normalizeSet(keywords.Good),
			Evil:    normalizeSet(keywords.Evil),
			Neutral: normalizeAll(keywords.Neutral),
		},
	}
}

// Score returns the provisional delta for an action. Any neutral marker
// short-circuits to the zero delta.
func (s *Scorer) Score(action string) Scores {
	text := fold(action)
	if text == "" || containsAny(text, s.keywords.Neutral) {
		return Scores{}
	}

	return Scores{
		Lawful:  weigh(text, s.keywords.Lawful),
		Chaotic: weigh(text, s.keywords.Chaotic),
		Good:    weigh(text, s.keywords.Good),
		Evil:    weigh(text, s.keywords.Evil),
	}
}

// weigh checks strong keywords before weak ones; at most one contribution.
func weigh(text string, set KeywordSet) int {
	if containsAny(text, set.Strong) {
		return strongWeight
	}
	if containsAny(text, set.Weak) {
		return weakWeight
	}
	return 0
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func fold(s string) string {
	return cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(s)))
}

func normalizeSet(set KeywordSet) KeywordSet {
	return KeywordSet{Strong: normalizeAll(set.Strong), Weak: normalizeAll(set.Weak)}
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if kw = fold(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
