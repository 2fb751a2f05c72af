package chat

// DefaultHistoryLimit keeps the last four exchanges.
const DefaultHistoryLimit = 8

// History is the bounded, model-visible conversation log. Turns are always
// appended and evicted as user/assistant pairs, so the window starts with a
// user message and ends with an assistant message. The persona prompt is
// never stored here.
type History struct {
	limit    int
	messages []ChatMessage
}

// NewHistory creates an empty history. Odd limits are rounded down to keep
// whole pairs; anything below one pair becomes one pair.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit -= limit % 2
	if limit < 2 {
		limit = 2
	}
	return &History{
		limit:    limit,
		messages: make([]ChatMessage, 0, limit+2),
	}
}

// RestoreHistory rebuilds a history from persisted messages, trimming it to
// the limit and dropping a leading unpaired entry.
func RestoreHistory(limit int, messages []ChatMessage) *History {
	h := NewHistory(limit)
	if len(messages)%2 == 1 {
		messages = messages[1:]
	}
	h.messages = append(h.messages, messages...)
	h.evict()
	return h
}

// Append pushes one exchange and evicts the oldest pairs beyond the limit.
func (h *History) Append(userContent, assistantContent string) {
	h.messages = append(h.messages,
		ChatMessage{Role: ChatRoleUser, Content: userContent},
		ChatMessage{Role: ChatRoleAgent, Content: assistantContent},
	)
	h.evict()
}

func (h *History) evict() {
	if over := len(h.messages) - h.limit; over > 0 {
		over += over % 2
		h.messages = append(h.messages[:0:0], h.messages[over:]...)
	}
}

// Messages returns a copy of the window for building a model prompt.
func (h *History) Messages() []ChatMessage {
	out := make([]ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// UserMessages returns the contents of the most recent n user turns, oldest first.
func (h *History) UserMessages(n int) []string {
	var out []string
	for _, m := range h.messages {
		if m.Role == ChatRoleUser {
			out = append(out, m.Content)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (h *History) Len() int {
	return len(h.messages)
}

func (h *History) Limit() int {
	return h.limit
}

// Reset empties the window without changing the limit.
func (h *History) Reset() {
	h.messages = h.messages[:0]
}
