package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/alignment-engine/pkg/chat"
)

const (
	ollamaBaseURL = "http://localhost:11434"

	ollamaReadyAttempts = 5
	ollamaReadyDelay    = 2 * time.Second
	ollamaPullTimeout   = 10 * time.Minute
)

// OllamaService serves turns from a local Ollama server.
type OllamaService struct {
	baseURL     string
	modelName   string
	temperature float64
	maxTokens   int
	jsonMode    bool
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewOllamaService(opts LLMOptions, logger *slog.Logger) *OllamaService {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &OllamaService{
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

// InitModel waits for the server and pulls the model if it is missing.
func (s *OllamaService) InitModel(ctx context.Context) error {
	log := s.logger.With("model", s.modelName)
	log.Info("Initializing LLM model")

	models, err := s.waitForModels(ctx)
	if err != nil {
		return fmt.Errorf("ollama service is not ready: %w", err)
	}
	if hasModel(models, s.modelName) {
		log.Info("Model already available")
		return nil
	}

	log.Info("Model not found, pulling it")
	if err := s.pullModel(ctx); err != nil {
		return fmt.Errorf("failed to pull model: %w", err)
	}
	log.Info("Model pulled successfully")
	return nil
}

type ollamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []chat.ChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Format   string             `json:"format,omitempty"`
	Options  map[string]any     `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (s *OllamaService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	in := ollamaChatRequest{
		Model:    s.modelName,
		Messages: messages,
		Options: map[string]any{
			"temperature": s.temperature,
			"num_predict": s.maxTokens,
		},
	}
	if s.jsonMode {
		in.Format = "json"
	}

	var out ollamaChatResponse
	status, err := s.postJSON(ctx, s.httpClient, "/api/chat", in, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		if out.Error != "" {
			return nil, fmt.Errorf("API error (status %d): %s", status, out.Error)
		}
		return nil, fmt.Errorf("API request failed with status: %d", status)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("API error: %s", out.Error)
	}
	if out.Message.Content == "" {
		return nil, fmt.Errorf("no text content found in response")
	}
	return &chat.ChatResponse{Message: out.Message.Content}, nil
}

// postJSON sends in and decodes the reply into out when the body is JSON.
// Non-200 statuses are returned for the caller to judge.
func (s *OllamaService) postJSON(ctx context.Context, client *http.Client, path string, in, out any) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// listModels returns the names of locally available models.
func (s *OllamaService) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// waitForModels polls the tag list until the server answers.
func (s *OllamaService) waitForModels(ctx context.Context) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= ollamaReadyAttempts; attempt++ {
		models, err := s.listModels(ctx)
		if err == nil {
			return models, nil
		}
		lastErr = err
		s.logger.Debug("Ollama not ready yet", "error", err, "attempt", attempt)

		if attempt == ollamaReadyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ollamaReadyDelay):
		}
	}
	return nil, fmt.Errorf("no answer after %d attempts: %w", ollamaReadyAttempts, lastErr)
}

func (s *OllamaService) pullModel(ctx context.Context) error {
	client := &http.Client{Timeout: ollamaPullTimeout}
	status, err := s.postJSON(ctx, client, "/api/pull", map[string]any{"name": s.modelName, "stream": false}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("API request failed with status: %d", status)
	}
	return nil
}

// hasModel matches names with or without the implicit ":latest" tag.
func hasModel(models []string, name string) bool {
	for _, m := range models {
		if m == name || strings.TrimSuffix(m, ":latest") == name {
			return true
		}
	}
	return false
}
