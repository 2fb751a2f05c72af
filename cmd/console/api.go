package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/internal/handlers"
	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
)

// APIError is a non-success response from the engine API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Status, e.Message)
}

// turnStatuses are the statuses whose body is a TurnResponse worth showing:
// success, a rejected roll and a failed model call.
var turnStatuses = []int{http.StatusOK, http.StatusUnprocessableEntity, http.StatusBadGateway}

type apiClient struct {
	client  *http.Client
	baseURL string
}

func newAPIClient(client *http.Client, baseURL string) *apiClient {
	return &apiClient{client: client, baseURL: baseURL}
}

func (a *apiClient) testConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	// A degraded store still leaves the game playable.
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusServiceUnavailable
}

func (a *apiClient) startSession(ctx context.Context, playerName string) (*handlers.StartResponse, error) {
	var out handlers.StartResponse
	if _, err := a.do(ctx, http.MethodPost, "/v1/sessions", chat.StartRequest{PlayerName: playerName}, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) getSession(ctx context.Context, id uuid.UUID) (*handlers.SessionView, error) {
	var out handlers.SessionView
	if _, err := a.do(ctx, http.MethodGet, "/v1/sessions/"+id.String(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// submit sends an action or roll. A rejected roll or a failed model call
// still returns the response so its events can be shown.
func (a *apiClient) submit(ctx context.Context, id uuid.UUID, message string) (*handlers.TurnResponse, error) {
	var out handlers.TurnResponse
	if _, err := a.do(ctx, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", chat.ActionRequest{Message: message}, &out, turnStatuses...); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) goHome(ctx context.Context, id uuid.UUID) error {
	_, err := a.do(ctx, http.MethodDelete, "/v1/sessions/"+id.String(), nil, nil, http.StatusNoContent)
	return err
}

func (a *apiClient) signGuestbook(ctx context.Context, id uuid.UUID, req chat.GuestbookRequest) (*storage.GuestbookEntry, error) {
	var out storage.GuestbookEntry
	if _, err := a.do(ctx, http.MethodPost, "/v1/sessions/"+id.String()+"/guestbook", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) guestbook(ctx context.Context, limit int) ([]storage.GuestbookEntry, error) {
	var out handlers.GuestbookResponse
	if _, err := a.do(ctx, http.MethodGet, "/v1/guestbook?limit="+strconv.Itoa(limit), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// do sends body as JSON and decodes the response into out when the status
// is one of accept.
func (a *apiClient) do(ctx context.Context, method, path string, body, out any, accept ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if !slices.Contains(accept, resp.StatusCode) {
		var errorResp handlers.ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err != nil || errorResp.Error == "" {
			return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: string(respBody)}
		}
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: errorResp.Error}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// isStatus reports whether err is an APIError with the given status.
func isStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
