package state

import (
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/turn"
)

// EventType names what the consumer should present.
type EventType string

const (
	EventNarration     EventType = "narration"      // story text
	EventDiceRequested EventType = "dice_requested" // a roll is pending
	EventSessionEnded  EventType = "session_ended"  // outcome and epilogue
	EventError         EventType = "error"          // model failure narration
	EventPrompt        EventType = "prompt"         // corrective re-prompt, e.g. invalid roll
)

// Event is one item surfaced by an orchestrator operation, in order.
type Event struct {
	Type      EventType         `json:"type"`
	Text      string            `json:"text,omitempty"`
	Dice      *turn.DiceRequest `json:"dice,omitempty"`
	Alignment alignment.Label   `json:"alignment,omitempty"`
	Scores    *alignment.Scores `json:"scores,omitempty"`
	Epilogue  *turn.Epilogue    `json:"epilogue,omitempty"`
	// Degraded marks narration that came from an unparseable model payload.
	Degraded bool `json:"degraded,omitempty"`
}

func Narration(text string, degraded bool) Event {
	return Event{Type: EventNarration, Text: text, Degraded: degraded}
}

func DiceRequested(prompt string, req turn.DiceRequest) Event {
	return Event{Type: EventDiceRequested, Text: prompt, Dice: &req}
}

func SessionEnded(label alignment.Label, scores alignment.Scores, epilogue turn.Epilogue) Event {
	return Event{
		Type:      EventSessionEnded,
		Text:      epilogue.Description,
		Alignment: label,
		Scores:    &scores,
		Epilogue:  &epilogue,
	}
}

func ErrorNarration(text string) Event {
	return Event{Type: EventError, Text: text}
}

func Prompt(text string) Event {
	return Event{Type: EventPrompt, Text: text}
}
