package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/jwebster45206/alignment-engine/internal/logger"
	"github.com/jwebster45206/alignment-engine/internal/services"
	"github.com/jwebster45206/alignment-engine/internal/session"
	istorage "github.com/jwebster45206/alignment-engine/internal/storage"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/scenario"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	router http.Handler
	llm    *services.MockLLMAPI
	store  *storage.MockStorage
	scn    *scenario.Scenario
}

func newAPIFixture(t *testing.T, gateway storage.Gateway) *apiFixture {
	t.Helper()
	scn, err := scenario.Default()
	require.NoError(t, err)

	f := &apiFixture{
		llm:   services.NewMockLLMAPI(),
		store: storage.NewMockStorage(),
		scn:   scn,
	}
	if gateway == nil {
		gateway = f.store
	}
	log := logger.Discard()
	manager, err := session.NewManager(session.Options{
		Scenario: scn,
		LLM:      f.llm,
		Gateway:  gateway,
		Logger:   log,
	}, f.store, time.Hour)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewSessionHandler(manager, 20, log).RegisterRoutes(r)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) start(t *testing.T) uuid.UUID {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"player_name": "Alex"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp StartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Session.ID
}

func reply(story string, delta alignment.Scores, die string, ended bool) string {
	dice := "null"
	if die != "" {
		dice = `{"type": "` + die + `", "description": "주사위를 굴리세요"}`
	}
	b, _ := json.Marshal(delta)
	return `{"story": "` + story + `", "alignmentScores": ` + string(b) +
		`, "diceRequest": ` + dice + `, "gameEnded": ` + strconv.FormatBool(ended) + `}`
}

func decodeTurn(t *testing.T, rec *httptest.ResponseRecorder) TurnResponse {
	t.Helper()
	var resp TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCreateSession(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"player_name": "Alex"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, state.PhaseAwaitingAction, resp.Phase)
	assert.Equal(t, "Alex", resp.Session.PlayerName)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, state.EventNarration, resp.Events[0].Type)
	assert.Equal(t, f.scn.Prologue, resp.Events[0].Text)
}

func TestCreateSession_BadRequests(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "player"},
		{"missing name", `{}`},
		{"name too long", `{"player_name": "` + strings.Repeat("a", 51) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSubmitAction(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.start(t)
	f.llm.QueueResponse(reply("청년이 나타납니다.", alignment.Scores{Good: 1}, "D20", false))

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "돕는다"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeTurn(t, rec)
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, state.PhaseAwaitingDiceRoll, resp.Phase)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "청년이 나타납니다.", resp.Events[0].Text)
	assert.Equal(t, state.EventDiceRequested, resp.Events[1].Type)
	require.NotNil(t, resp.PendingDice)
	assert.Equal(t, 20, resp.PendingDice.UpperBound)
	assert.Empty(t, resp.Error)
}

func TestSubmitAction_ErrorMapping(t *testing.T) {
	t.Run("invalid roll is 422 with the prompt", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		id := f.start(t)
		f.llm.QueueResponse(reply("굴려라", alignment.Scores{}, "D20", false))
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "쫓는다"}).Code)

		rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "25"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeTurn(t, rec)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, state.EventPrompt, resp.Events[0].Type)
		assert.Equal(t, f.scn.OutOfRangePrompt(20), resp.Events[0].Text)
		assert.Equal(t, state.PhaseAwaitingDiceRoll, resp.Phase)
		assert.NotNil(t, resp.PendingDice)
	})

	t.Run("model failure is 502 with the error narration", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		id := f.start(t)
		f.llm.QueueError(errors.New("upstream exploded"))

		rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "본다"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decodeTurn(t, rec)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, state.EventError, resp.Events[0].Type)
		assert.Contains(t, resp.Events[0].Text, "upstream exploded")
		assert.Equal(t, state.PhaseAwaitingAction, resp.Phase)
	})

	t.Run("ended session is 409", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		id := f.start(t)
		f.llm.QueueResponse(reply("끝", alignment.Scores{}, "", true))
		f.llm.QueueError(errors.New("no epilogue"))
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "잔다"}).Code)

		rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "또"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/v1/sessions/"+uuid.NewString()+"/actions", map[string]string{"message": "본다"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/v1/sessions/not-a-uuid/actions", map[string]string{"message": "본다"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty message is 400", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		id := f.start(t)
		rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetAndDeleteSession(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.start(t)
	f.llm.QueueResponse(reply("장면", alignment.Scores{Lawful: 2}, "", false))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "신고한다"}).Code)

	rec := f.do(t, http.MethodGet, "/v1/sessions/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, state.PhaseAwaitingAction, view.Phase)
	assert.Equal(t, alignment.Scores{Lawful: 2}, view.Scores)
	assert.Equal(t, 1, view.Turns)
	assert.Equal(t, 2, view.HistoryLength)

	rec = f.do(t, http.MethodDelete, "/v1/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuestbookRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.start(t)
	path := "/v1/sessions/" + id.String() + "/guestbook"

	rec := f.do(t, http.MethodPost, path, map[string]string{"nickname": "Alex", "message": "안녕"})
	assert.Equal(t, http.StatusConflict, rec.Code, "cannot sign before the ending")

	f.llm.QueueResponse(reply("끝", alignment.Scores{Good: 4}, "", true))
	f.llm.QueueResponse(`{"title": "Neutral\nGood", "description": "좋은 밤."}`)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "돌려줄게"}).Code)

	rec = f.do(t, http.MethodPost, path, map[string]string{"nickname": "", "message": "안녕"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, path, map[string]string{"nickname": "Alex", "message": "정말 재밌었어요"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry storage.GuestbookEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	assert.Equal(t, alignment.NeutralGood, entry.Alignment)

	rec = f.do(t, http.MethodGet, "/v1/guestbook?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list GuestbookResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "정말 재밌었어요", list.Entries[0].Message)

	rec = f.do(t, http.MethodGet, "/v1/guestbook?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuestbook_StorageDisabled(t *testing.T) {
	f := newAPIFixture(t, storage.Disabled{})

	rec := f.do(t, http.MethodGet, "/v1/guestbook", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Gameplay still works without a store.
	id := f.start(t)
	f.llm.QueueResponse(reply("장면", alignment.Scores{}, "", false))
	rec = f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/actions", map[string]string{"message": "본다"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuestbook_BackendFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	store := istorage.NewRedisStorageFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), logger.Discard())
	t.Cleanup(func() { _ = store.Close() })
	f := newAPIFixture(t, store)

	mr.SetError("ERR injected failure")

	rec := f.do(t, http.MethodGet, "/v1/guestbook", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Storage is not available")
}
