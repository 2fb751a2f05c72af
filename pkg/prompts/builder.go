package prompts

import (
	"fmt"

	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"github.com/jwebster45206/alignment-engine/pkg/scenario"
)

// Builder constructs chat messages for LLM interaction using a fluent interface.
// The persona is always injected fresh as the first message; it never lives
// in the history.
type Builder struct {
	persona     string
	history     *chat.History
	userMessage string
	messages    []chat.ChatMessage
}

// New creates a new prompt builder.
func New() *Builder {
	return &Builder{
		messages: make([]chat.ChatMessage, 0),
	}
}

// WithPersona sets the system prompt.
func (b *Builder) WithPersona(persona string) *Builder {
	b.persona = persona
	return b
}

// WithHistory sets the bounded conversation window.
func (b *Builder) WithHistory(h *chat.History) *Builder {
	b.history = h
	return b
}

// WithUserMessage sets the newest user message.
func (b *Builder) WithUserMessage(message string) *Builder {
	b.userMessage = message
	return b
}

// Build constructs and returns the final message array for LLM consumption:
// persona, then history, then the new user message.
func (b *Builder) Build() ([]chat.ChatMessage, error) {
	if b.persona == "" {
		return nil, fmt.Errorf("persona is required")
	}
	if b.userMessage == "" {
		return nil, fmt.Errorf("user message is required")
	}

	b.messages = make([]chat.ChatMessage, 0, 2+b.historyLen())
	b.messages = append(b.messages, chat.ChatMessage{
		Role:    chat.ChatRoleSystem,
		Content: b.persona,
	})
	if b.history != nil {
		b.messages = append(b.messages, b.history.Messages()...)
	}
	b.messages = append(b.messages, chat.ChatMessage{
		Role:    chat.ChatRoleUser,
		Content: b.userMessage,
	})

	return b.messages, nil
}

func (b *Builder) historyLen() int {
	if b.history == nil {
		return 0
	}
	return b.history.Len()
}

// TurnMessages builds the game-master call for one player turn.
func TurnMessages(s *scenario.Scenario, h *chat.History, userMessage string) ([]chat.ChatMessage, error) {
	return New().
		WithPersona(s.Persona).
		WithHistory(h).
		WithUserMessage(userMessage).
		Build()
}

// EpilogueMessages builds the closing call: epilogue persona, the same
// history window, and a prompt summarising the outcome.
func EpilogueMessages(s *scenario.Scenario, h *chat.History, label alignment.Label, scores alignment.Scores) ([]chat.ChatMessage, error) {
	var actions []string
	if h != nil {
		actions = h.UserMessages(s.RecentActionCount())
	}
	return New().
		WithPersona(s.Epilogue.Persona).
		WithHistory(h).
		WithUserMessage(s.EpiloguePrompt(label, actions, scores)).
		Build()
}
