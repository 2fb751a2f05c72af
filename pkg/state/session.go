package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"github.com/jwebster45206/alignment-engine/pkg/turn"
)

// Phase is the orchestrator's position in a playthrough.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingAction   Phase = "awaiting_action"
	PhaseAwaitingDiceRoll Phase = "awaiting_dice_roll"
	PhaseEnded            Phase = "ended"
)

// Accepting reports whether the phase takes player input.
func (p Phase) Accepting() bool {
	return p == PhaseAwaitingAction || p == PhaseAwaitingDiceRoll
}

func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseAwaitingAction, PhaseAwaitingDiceRoll, PhaseEnded:
		return true
	}
	return false
}

// Session identifies one playthrough.
type Session struct {
	ID          uuid.UUID       `json:"id"`
	PlayerName  string          `json:"player_name"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Outcome     alignment.Label `json:"outcome,omitempty"`
	// Persisted is false when the store could not create the session and
	// the ID was assigned locally. Log writes are skipped in that case.
	Persisted bool `json:"persisted"`
}

// Ended reports whether completion has been recorded.
func (s *Session) Ended() bool {
	return s != nil && s.CompletedAt != nil
}

// Snapshot is the serialisable state of one orchestrator, used to host
// sessions across API restarts.
type Snapshot struct {
	Phase        Phase              `json:"phase"`
	Session      *Session           `json:"session,omitempty"`
	Scores       alignment.Scores   `json:"scores"`
	History      []chat.ChatMessage `json:"history,omitempty"`
	HistoryLimit int                `json:"history_limit"`
	PendingDice  *turn.DiceRequest  `json:"pending_dice,omitempty"`
	Epilogue     *turn.Epilogue     `json:"epilogue,omitempty"`
	Turns        int                `json:"turns"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// SessionID returns the snapshot's session id, or uuid.Nil when idle.
func (s *Snapshot) SessionID() uuid.UUID {
	if s == nil || s.Session == nil {
		return uuid.Nil
	}
	return s.Session.ID
}
