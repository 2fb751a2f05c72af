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
	chatGPTBaseURL = "https://api.openai.com/v1"
)

// ChatGPTService implements LLMService for OpenAI-compatible chat completions.
type ChatGPTService struct {
	apiKey      string
	baseURL     string
	modelName   string
	temperature float64
	maxTokens   int
	jsonMode    bool
	httpClient  *http.Client
	logger      *slog.Logger
}

// ChatGPTRequest represents the request structure for the chat completions API
type ChatGPTRequest struct {
	Model          string             `json:"model"`
	Messages       []chat.ChatMessage `json:"messages"`
	Temperature    float64            `json:"temperature,omitempty"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	ResponseFormat *ChatGPTRespFormat `json:"response_format,omitempty"`
}

type ChatGPTRespFormat struct {
	Type string `json:"type"` // "json_object" or "text"
}

// ChatGPTChoice represents a single choice in the response
type ChatGPTChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
		Refusal string  `json:"refusal,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// ChatGPTResponse represents the response structure for the chat completions API
type ChatGPTResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []ChatGPTChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewChatGPTService creates a new chat completions client
func NewChatGPTService(opts LLMOptions, logger *slog.Logger) *ChatGPTService {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = chatGPTBaseURL
	}
	return &ChatGPTService{
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

// Chat generates a chat response using the chat completions API
func (c *ChatGPTService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	request := ChatGPTRequest{
		Model:       c.modelName,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if c.jsonMode {
		request.ResponseFormat = &ChatGPTRespFormat{Type: "json_object"}
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var chatGPTResp ChatGPTResponse
	if resp.StatusCode != http.StatusOK {
		// Prefer the API's own message when the body carries one.
		if json.Unmarshal(body, &chatGPTResp) == nil && chatGPTResp.Error != nil {
			return nil, fmt.Errorf("API Error: %s", chatGPTResp.Error.Message)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, &chatGPTResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatGPTResp.Error != nil {
		return nil, fmt.Errorf("API Error: %s", chatGPTResp.Error.Message)
	}

	if len(chatGPTResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from API")
	}

	choice := chatGPTResp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("model refused to respond: %s", choice.Message.Refusal)
	}
	if choice.Message.Content == nil || *choice.Message.Content == "" {
		return nil, fmt.Errorf("no text content found in response")
	}

	c.logger.Debug("Chat completion finished",
		"model", chatGPTResp.Model,
		"finish_reason", choice.FinishReason,
		"prompt_tokens", chatGPTResp.Usage.PromptTokens,
		"completion_tokens", chatGPTResp.Usage.CompletionTokens)

	return &chat.ChatResponse{
		Message: *choice.Message.Content,
	}, nil
}
