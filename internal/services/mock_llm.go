package services

import (
	"context"
	"errors"
	"sync"

	"github.com/jwebster45206/alignment-engine/pkg/chat"
)

// ErrNoMockResponse is returned when a MockLLMAPI runs out of queued responses.
var ErrNoMockResponse = errors.New("mock llm: no response queued")

// MockLLMAPI is a mock implementation of LLMService for testing
type MockLLMAPI struct {
	ChatFunc func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)

	// Track calls for testing
	ChatCalls []ChatCall

	queue []mockReply
	mu    sync.Mutex // protects all fields above
}

type ChatCall struct {
	Messages []chat.ChatMessage
}

type mockReply struct {
	text string
	err  error
}

// NewMockLLMAPI creates a new mock LLM service
func NewMockLLMAPI() *MockLLMAPI {
	return &MockLLMAPI{
		ChatCalls: make([]ChatCall, 0),
	}
}

// QueueResponse appends a raw model reply returned by a later Chat call.
func (m *MockLLMAPI) QueueResponse(text string) *MockLLMAPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{text: text})
	return m
}

// QueueError appends a failure returned by a later Chat call.
func (m *MockLLMAPI) QueueError(err error) *MockLLMAPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// SetChatError makes every Chat call fail with err.
func (m *MockLLMAPI) SetChatError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		return nil, err
	}
}

// Chat records the call and answers from ChatFunc or the queue.
func (m *MockLLMAPI) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]chat.ChatMessage, len(messages))
	copy(cp, messages)
	m.ChatCalls = append(m.ChatCalls, ChatCall{Messages: cp})

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages)
	}
	if len(m.queue) == 0 {
		return nil, ErrNoMockResponse
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &chat.ChatResponse{Message: next.text}, nil
}

// GetCalls returns a copy of the call tracking data in a thread-safe way
func (m *MockLLMAPI) GetCalls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]ChatCall, len(m.ChatCalls))
	copy(calls, m.ChatCalls)
	return calls
}

// LastCall returns the most recent call, or false when none was made.
func (m *MockLLMAPI) LastCall() (ChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ChatCalls) == 0 {
		return ChatCall{}, false
	}
	return m.ChatCalls[len(m.ChatCalls)-1], true
}

// Reset clears call tracking and queued replies
func (m *MockLLMAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatCalls = make([]ChatCall, 0)
	m.queue = nil
	m.ChatFunc = nil
}
