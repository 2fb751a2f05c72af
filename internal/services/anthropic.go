package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/alignment-engine/pkg/chat"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	// jsonOnlyReminder is appended to the system prompt in JSON mode since
	// the messages API has no response_format switch.
	jsonOnlyReminder = "Respond with a single JSON object and nothing else."
)

// AnthropicService talks to the Anthropic messages API.
type AnthropicService struct {
	apiKey      string
	baseURL     string
	modelName   string
	temperature float64
	maxTokens   int
	jsonMode    bool
	httpClient  *http.Client
	logger      *slog.Logger
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []chat.ChatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// text joins the text blocks of a reply.
func (r *anthropicResponse) text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func NewAnthropicService(opts LLMOptions, logger *slog.Logger) *AnthropicService {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicService{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		modelName:   opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		jsonMode:    opts.JSONMode,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// splitSystem lifts system messages out of the conversation, since the
// messages API takes the persona as a separate field.
func splitSystem(messages []chat.ChatMessage) (string, []chat.ChatMessage) {
	var persona []string
	dialogue := make([]chat.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chat.ChatRoleSystem {
			persona = append(persona, msg.Content)
			continue
		}
		dialogue = append(dialogue, msg)
	}
	return strings.Join(persona, "\n\n"), dialogue
}

func (a *AnthropicService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	system, dialogue := splitSystem(messages)
	if len(dialogue) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	if a.jsonMode {
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyReminder)
	}

	temperature := a.temperature
	payload, err := json.Marshal(anthropicRequest{
		Model:       a.modelName,
		MaxTokens:   a.maxTokens,
		Temperature: &temperature,
		System:      system,
		Messages:    dialogue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call anthropic: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var out anthropicResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(body, &out) == nil && out.Error != nil {
			return nil, fmt.Errorf("API error: %s", out.Error.Message)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("API error: %s", out.Error.Message)
	}

	text := out.text()
	if text == "" {
		return nil, fmt.Errorf("no text content found in response")
	}
	a.logger.Debug("Anthropic message finished",
		"model", a.modelName,
		"stop_reason", out.StopReason,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens)

	return &chat.ChatResponse{Message: text}, nil
}
