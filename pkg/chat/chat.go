package chat

import (
	"fmt"
	"unicode/utf8"
)

// Length limits, in runes.
const (
	MaxMessageLength    = 1000 // a single player submission or guestbook message
	MaxPlayerNameLength = 50
	MaxNicknameLength   = 30
	MaxContactLength    = 100
)

const (
	ChatRoleUser   = "user"      // Player
	ChatRoleAgent  = "assistant" // Game master
	ChatRoleSystem = "system"    // Persona prompt or system-authored narration
)

// ChatMessage represents a single chat message in the conversation.
// This shape is shared by the OpenAI and Anthropic message APIs.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse is the raw text payload returned by a model call.
type ChatResponse struct {
	Message string `json:"message"`
}

// ActionRequest is a player submission to an active session.
type ActionRequest struct {
	Message string `json:"message"`
}

func (ar *ActionRequest) Validate() error {
	if ar.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if utf8.RuneCountInString(ar.Message) > MaxMessageLength {
		return fmt.Errorf("message exceeds maximum length of %d characters", MaxMessageLength)
	}
	return nil
}

// StartRequest opens a new session for a named player.
type StartRequest struct {
	PlayerName string `json:"player_name"`
}

func (sr *StartRequest) Validate() error {
	if sr.PlayerName == "" {
		return fmt.Errorf("player_name cannot be empty")
	}
	if utf8.RuneCountInString(sr.PlayerName) > MaxPlayerNameLength {
		return fmt.Errorf("player_name exceeds maximum length of %d characters", MaxPlayerNameLength)
	}
	return nil
}

// GuestbookRequest signs the guestbook after a session has ended.
type GuestbookRequest struct {
	Nickname string `json:"nickname"`
	Contact  string `json:"contact,omitempty"`
	Message  string `json:"message"`
}

func (gr *GuestbookRequest) Validate() error {
	if gr.Nickname == "" {
		return fmt.Errorf("nickname cannot be empty")
	}
	if utf8.RuneCountInString(gr.Nickname) > MaxNicknameLength {
		return fmt.Errorf("nickname exceeds maximum length of %d characters", MaxNicknameLength)
	}
	if utf8.RuneCountInString(gr.Contact) > MaxContactLength {
		return fmt.Errorf("contact exceeds maximum length of %d characters", MaxContactLength)
	}
	if gr.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if utf8.RuneCountInString(gr.Message) > MaxMessageLength {
		return fmt.Errorf("message exceeds maximum length of %d characters", MaxMessageLength)
	}
	return nil
}
