// Package turn interprets the raw text returned by the game-master model.
// Parsing never fails: malformed payloads come back as a degraded Result
// carrying the raw text as narrative.
package turn

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/jwebster45206/alignment-engine/pkg/alignment"
)

// fencePattern matches a fenced code block with or without a language tag.
var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\\r?\\n?(.*?)```")

// Result is one parsed model turn.
type Result struct {
	Narrative string           `json:"story"`
	Delta     alignment.Scores `json:"alignment_scores"`
	Dice      *DiceRequest     `json:"dice_request,omitempty"`
	Ended     bool             `json:"game_ended"`

	// Degraded is set when the payload could not be parsed and Narrative
	// holds the raw model text.
	Degraded bool `json:"degraded,omitempty"`
	// DiceDropped is set when the model asked for a roll with a die type
	// that has no usable upper bound.
	DiceDropped bool `json:"-"`
}

// payload is the JSON object the persona prompt asks the model to emit.
type payload struct {
	Story           *string       `json:"story"`
	AlignmentScores *scorePayload `json:"alignmentScores"`
	DiceRequest     *dicePayload  `json:"diceRequest"`
	GameEnded       flexBool      `json:"gameEnded"`
}

type scorePayload struct {
	Lawful  flexInt `json:"lawful"`
	Chaotic flexInt `json:"chaotic"`
	Good    flexInt `json:"good"`
	Evil    flexInt `json:"evil"`
}

type dicePayload struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Parse converts raw model output into a Result. Any JSON object counts as
// a turn; absent fields take their zero values, so a reply without a story
// still carries its scores and end flag.
func Parse(raw string) Result {
	text := Unwrap(raw)
	if !strings.HasPrefix(text, "{") {
		return Degraded(raw)
	}
	var p payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return Degraded(raw)
	}

	res := Result{Ended: bool(p.GameEnded)}
	if p.Story != nil {
		res.Narrative = strings.TrimSpace(*p.Story)
	}
	if s := p.AlignmentScores; s != nil {
		res.Delta = alignment.Scores{
			Lawful:  int(s.Lawful),
			Chaotic: int(s.Chaotic),
			Good:    int(s.Good),
			Evil:    int(s.Evil),
		}
	}
	if d := p.DiceRequest; d != nil {
		bound, err := ParseDieType(d.Type)
		if err != nil {
			res.DiceDropped = true
		} else {
			res.Dice = &DiceRequest{
				Type:        DieType(bound),
				Description: strings.TrimSpace(d.Description),
				UpperBound:  bound,
			}
		}
	}
	return res
}

// Degraded builds the fallback result for unparseable output.
func Degraded(raw string) Result {
	return Result{Narrative: raw, Degraded: true}
}

// Unwrap returns the inner text of the first fenced code block, or the
// trimmed input when there is none.
func Unwrap(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
