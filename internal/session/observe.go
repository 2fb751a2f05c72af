package session

import (
	"time"

	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/turn"
)

// Turn outcomes passed to Recorder.TurnCompleted.
const (
	OutcomeNarration = "narration"
	OutcomeDice      = "dice_requested"
	OutcomeEnded     = "ended"
	OutcomeDegraded  = "degraded"
	OutcomeError     = "error"
)

// Model call kinds passed to Recorder.ModelCall.
const (
	CallTurn     = "turn"
	CallEpilogue = "epilogue"
)

// Recorder receives operational measurements. internal/metrics implements
// it on Prometheus.
type Recorder interface {
	TurnCompleted(outcome string)
	ModelCall(kind string, elapsed time.Duration, err error)
	FallbackApplied()
	SessionEnded(label alignment.Label, fallbackEpilogue bool)
	GatewayFailure(op string)
}

type nopRecorder struct{}

func (nopRecorder) TurnCompleted(string) {}
func (nopRecorder) ModelCall(string, time.Duration, error) {}
func (nopRecorder) FallbackApplied() {}
func (nopRecorder) SessionEnded(alignment.Label, bool) {}
func (nopRecorder) GatewayFailure(string) {}

// Listener is notified of everything the orchestrator surfaces, in order.
// Operations also return the same items as events, so a Listener is only
// needed by consumers that render as they go.
type Listener interface {
	OnNarration(text string)
	OnDiceRequested(description string, upperBound int)
	OnSessionEnded(label alignment.Label, epilogue turn.Epilogue)
	OnError(message string)
	OnPrompt(text string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Narration     func(text string)
	DiceRequested func(description string, upperBound int)
	SessionEnded  func(label alignment.Label, epilogue turn.Epilogue)
	Error         func(message string)
	Prompt        func(text string)
}

func (l ListenerFuncs) OnNarration(text string) {
	if l.Narration != nil {
		l.Narration(text)
	}
}

func (l ListenerFuncs) OnDiceRequested(description string, upperBound int) {
	if l.DiceRequested != nil {
		l.DiceRequested(description, upperBound)
	}
}

func (l ListenerFuncs) OnSessionEnded(label alignment.Label, epilogue turn.Epilogue) {
	if l.SessionEnded != nil {
		l.SessionEnded(label, epilogue)
	}
}

func (l ListenerFuncs) OnError(message string) {
	if l.Error != nil {
		l.Error(message)
	}
}

func (l ListenerFuncs) OnPrompt(text string) {
	if l.Prompt != nil {
		l.Prompt(text)
	}
}
