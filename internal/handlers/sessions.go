package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/internal/logger"
	"github.com/jwebster45206/alignment-engine/internal/session"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	"github.com/jwebster45206/alignment-engine/pkg/turn"
)

// maxGuestbookLimit caps the ?limit= query parameter.
const maxGuestbookLimit = 100

// StartResponse is returned when a session is created.
type StartResponse struct {
	Session *state.Session `json:"session"`
	Phase   state.Phase    `json:"phase"`
	Events  []state.Event  `json:"events"`
}

// TurnResponse is returned for every submission, including rejected rolls
// and failed model calls, so the client can always render the events.
type TurnResponse struct {
	SessionID   uuid.UUID         `json:"session_id"`
	Phase       state.Phase       `json:"phase"`
	Events      []state.Event     `json:"events"`
	PendingDice *turn.DiceRequest `json:"pending_dice,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// SessionView is the read-only state of a hosted session.
type SessionView struct {
	Session       *state.Session    `json:"session"`
	Phase         state.Phase       `json:"phase"`
	Scores        alignment.Scores  `json:"scores"`
	PendingDice   *turn.DiceRequest `json:"pending_dice,omitempty"`
	Epilogue      *turn.Epilogue    `json:"epilogue,omitempty"`
	Turns         int               `json:"turns"`
	HistoryLength int               `json:"history_length"`
}

type GuestbookResponse struct {
	Entries []storage.GuestbookEntry `json:"entries"`
}

// SessionHandler serves the gameplay and guestbook routes.
type SessionHandler struct {
	manager        *session.Manager
	guestbookLimit int
	logger         *slog.Logger
}

func NewSessionHandler(manager *session.Manager, guestbookLimit int, logger *slog.Logger) *SessionHandler {
	if guestbookLimit <= 0 {
		guestbookLimit = storage.DefaultGuestbookLimit
	}
	return &SessionHandler{
		manager:        manager,
		guestbookLimit: guestbookLimit,
		logger:         logger,
	}
}

// RegisterRoutes mounts:
// POST   /v1/sessions                 - start a session
// GET    /v1/sessions/{id}            - read session state
// DELETE /v1/sessions/{id}            - abandon the session (go home)
// POST   /v1/sessions/{id}/actions    - submit an action or dice roll
// POST   /v1/sessions/{id}/guestbook  - sign the guestbook after the ending
// GET    /v1/guestbook                - newest guestbook entries
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/actions", h.Submit)
			r.Post("/guestbook", h.SignGuestbook)
		})
	})
	r.Get("/v1/guestbook", h.ListGuestbook)
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req chat.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'player_name' field.")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	o, events, err := h.manager.Start(detach(r), req.PlayerName)
	if err != nil {
		h.fail(w, err, uuid.Nil)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, StartResponse{
		Session: o.Session(),
		Phase:   o.Phase(),
		Events:  events,
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	o, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err, id)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SessionView{
		Session:       o.Session(),
		Phase:         o.Phase(),
		Scores:        o.Scores(),
		PendingDice:   o.PendingDice(),
		Epilogue:      o.Epilogue(),
		Turns:         o.Snapshot().Turns,
		HistoryLength: len(o.History()),
	})
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.manager.GoHome(r.Context(), id); err != nil {
		h.fail(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req chat.ActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("Invalid request body", "error", err, "session_id", id)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'message' field.")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	o, events, err := h.manager.Submit(detach(r), id, req.Message)
	if o == nil {
		h.fail(w, err, id)
		return
	}

	resp := TurnResponse{
		SessionID:   id,
		Phase:       o.Phase(),
		Events:      events,
		PendingDice: o.PendingDice(),
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		// Rejected rolls and model failures carry events to show; other
		// errors are plain.
		if len(events) == 0 {
			h.fail(w, err, id)
			return
		}
		resp.Error = err.Error()
		h.logger.Warn("Turn not applied", "session_id", id, "status", status, "error", err)
	}
	writeJSON(w, h.logger, status, resp)
}

func (h *SessionHandler) SignGuestbook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req chat.GuestbookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("Invalid request body", "error", err, "session_id", id)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'nickname' and 'message' fields.")
		return
	}

	entry, err := h.manager.SignGuestbook(r.Context(), id, req.Nickname, req.Contact, req.Message)
	if err != nil {
		h.fail(w, err, id)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, entry)
}

func (h *SessionHandler) ListGuestbook(w http.ResponseWriter, r *http.Request) {
	limit := h.guestbookLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxGuestbookLimit)
	}

	entries, err := h.manager.Guestbook(r.Context(), limit)
	if err != nil {
		h.fail(w, err, uuid.Nil)
		return
	}
	if entries == nil {
		entries = []storage.GuestbookEntry{}
	}
	writeJSON(w, h.logger, http.StatusOK, GuestbookResponse{Entries: entries})
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Warn("Invalid session ID", "id", raw, "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandler) fail(w http.ResponseWriter, err error, id uuid.UUID) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, storage.ErrUnavailable) {
		logger.WithError(h.logger, err).Error("Request failed", "session_id", id)
	} else {
		logger.WithError(h.logger, err).Warn("Request rejected", "session_id", id, "status", status)
	}
	writeError(w, h.logger, status, errorMessage(err, status))
}

// detach keeps request-scoped values but lets a turn finish when the client
// goes away; model calls are bounded by the client timeout instead.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
