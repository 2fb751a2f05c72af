package alignment

import "fmt"

// Label is one of the nine canonical outcome labels.
type Label string

const (
	LawfulGood     Label = "Lawful Good"
	NeutralGood    Label = "Neutral Good"
	ChaoticGood    Label = "Chaotic Good"
	LawfulNeutral  Label = "Lawful Neutral"
	TrueNeutral    Label = "True Neutral"
	ChaoticNeutral Label = "Chaotic Neutral"
	LawfulEvil     Label = "Lawful Evil"
	NeutralEvil    Label = "Neutral Evil"
	ChaoticEvil    Label = "Chaotic Evil"
)

// Labels lists every outcome in grid order (law/chaos rows, good/evil columns).
var Labels = []Label{
	LawfulGood, NeutralGood, ChaoticGood,
	LawfulNeutral, TrueNeutral, ChaoticNeutral,
	LawfulEvil, NeutralEvil, ChaoticEvil,
}

// Axis values returned by Scores.Axes.
const (
	Lawful  = "Lawful"
	Chaotic = "Chaotic"
	Good    = "Good"
	Evil    = "Evil"
	Neutral = "Neutral"
)

const (
	// relativeThreshold is the minimum difference between opposing counters
	// when the dominant counter also reaches relativeThreshold.
	relativeThreshold = 2
	// dominantThreshold decides an axis on the difference alone.
	dominantThreshold = 4
)

// Scores holds the four running alignment counters. The same shape is used
// for per-turn deltas.
type Scores struct {
	Lawful  int `json:"lawful" yaml:"lawful"`
	Chaotic int `json:"chaotic" yaml:"chaotic"`
	Good    int `json:"good" yaml:"good"`
	Evil    int `json:"evil" yaml:"evil"`
}

// Apply adds each field of delta to the corresponding counter.
// There is no clamping; negative totals are legal.
func (s *Scores) Apply(delta Scores) {
	s.Lawful += delta.Lawful
	s.Chaotic += delta.Chaotic
	s.Good += delta.Good
	s.Evil += delta.Evil
}

// IsZero reports whether all four fields are zero.
func (s Scores) IsZero() bool {
	return s.Lawful == 0 && s.Chaotic == 0 && s.Good == 0 && s.Evil == 0
}

func (s Scores) String() string {
	return fmt.Sprintf("lawful=%d chaotic=%d good=%d evil=%d", s.Lawful, s.Chaotic, s.Good, s.Evil)
}

// Axes resolves the law/chaos and good/evil axes independently.
func (s Scores) Axes() (string, string) {
	return resolveAxis(s.Lawful, s.Chaotic, Lawful, Chaotic),
		resolveAxis(s.Good, s.Evil, Good, Evil)
}

// Categorize maps the counters to one of the nine outcome labels.
// It depends only on the four counter values.
func (s Scores) Categorize() Label {
	axis1, axis2 := s.Axes()
	switch {
	case axis1 == Neutral && axis2 == Neutral:
		return TrueNeutral
	case axis2 == Neutral:
		return Label(axis1 + " " + Neutral)
	default:
		// Covers "Neutral Good"/"Neutral Evil" as well as the full pairs.
		return Label(axis1 + " " + axis2)
	}
}

// resolveAxis applies the dual threshold: a difference of at least 2 with
// the dominant counter at 2 or more, or a difference of at least 4 alone.
func resolveAxis(positive, negative int, positiveName, negativeName string) string {
	diff := positive - negative
	switch {
	case diff >= relativeThreshold && positive >= relativeThreshold:
		return positiveName
	case diff <= -relativeThreshold && negative >= relativeThreshold:
		return negativeName
	case diff >= dominantThreshold:
		return positiveName
	case diff <= -dominantThreshold:
		return negativeName
	default:
		return Neutral
	}
}

// Valid reports whether l is one of the nine canonical labels.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

func (l Label) String() string {
	return string(l)
}
