package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/internal/logger"
	"github.com/jwebster45206/alignment-engine/internal/services"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"github.com/jwebster45206/alignment-engine/pkg/scenario"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, llm *services.MockLLMAPI, store *storage.MockStorage) *Manager {
	t.Helper()
	scn, err := scenario.Default()
	require.NoError(t, err)

	m, err := NewManager(Options{
		Scenario: scn,
		LLM:      llm,
		Gateway:  store,
		Logger:   logger.Discard(),
	}, store, time.Hour)
	require.NoError(t, err)
	return m
}

func TestNewManager_ValidatesOptions(t *testing.T) {
	_, err := NewManager(Options{}, nil, 0)
	assert.Error(t, err)
}

func TestManager_StartAndSubmit(t *testing.T) {
	llm := services.NewMockLLMAPI()
	store := storage.NewMockStorage()
	m := newTestManager(t, llm, store)
	ctx := context.Background()

	o, events, err := m.Start(ctx, "Alex")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, m.Len())
	id := o.Session().ID

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, o, got)

	llm.QueueResponse(modelReply("장면", alignment.Scores{Good: 1}, "D20", false))
	_, events, err = m.Submit(ctx, id, "돕는다")
	require.NoError(t, err)
	require.Len(t, events, 2)

	snap, err := store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, state.PhaseAwaitingDiceRoll, snap.Phase)
	assert.Equal(t, alignment.Scores{Good: 1}, snap.Scores)

	// A rejected roll still round-trips through the manager.
	_, events, err = m.Submit(ctx, id, "99")
	assert.ErrorIs(t, err, ErrInvalidRoll)
	require.Len(t, events, 1)
	assert.Equal(t, state.EventPrompt, events[0].Type)
}

func TestManager_UnknownSession(t *testing.T) {
	m := newTestManager(t, services.NewMockLLMAPI(), storage.NewMockStorage())
	ctx := context.Background()

	_, err := m.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = m.Submit(ctx, uuid.New(), "본다")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.GoHome(ctx, uuid.New()), ErrSessionNotFound)
}

func TestManager_RehydratesFromSnapshot(t *testing.T) {
	llm := services.NewMockLLMAPI()
	store := storage.NewMockStorage()
	ctx := context.Background()

	first := newTestManager(t, llm, store)
	o, _, err := first.Start(ctx, "Alex")
	require.NoError(t, err)
	id := o.Session().ID
	llm.QueueResponse(modelReply("굴려라", alignment.Scores{Evil: 2}, "D6", false))
	_, _, err = first.Submit(ctx, id, "협박한다")
	require.NoError(t, err)

	// A second manager over the same store stands in for a restarted API.
	second := newTestManager(t, llm, store)
	assert.Equal(t, 0, second.Len())

	restored, err := second.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseAwaitingDiceRoll, restored.Phase())
	assert.Equal(t, alignment.Scores{Evil: 2}, restored.Scores())
	assert.Equal(t, 6, restored.PendingDice().UpperBound)
	assert.Equal(t, 1, second.Len())

	llm.QueueResponse(modelReply("다음", alignment.Scores{}, "", false))
	_, _, err = second.Submit(ctx, id, "5")
	require.NoError(t, err)
	assert.Equal(t, state.PhaseAwaitingAction, restored.Phase())
}

func TestManager_GoHomeForgetsSession(t *testing.T) {
	store := storage.NewMockStorage()
	m := newTestManager(t, services.NewMockLLMAPI(), store)
	ctx := context.Background()

	o, _, err := m.Start(ctx, "Alex")
	require.NoError(t, err)
	id := o.Session().ID

	require.NoError(t, m.GoHome(ctx, id))
	assert.Equal(t, 0, m.Len())

	snap, err := store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_SnapshotFailuresDoNotBlockPlay(t *testing.T) {
	llm := services.NewMockLLMAPI()
	store := storage.NewMockStorage()
	store.SetFailure(storage.OpSaveSnapshot, errors.New("redis down"))
	m := newTestManager(t, llm, store)
	ctx := context.Background()

	o, _, err := m.Start(ctx, "Alex")
	require.NoError(t, err)

	llm.QueueResponse(modelReply("장면", alignment.Scores{}, "", false))
	_, _, err = m.Submit(ctx, o.Session().ID, "본다")
	require.NoError(t, err)
	assert.Equal(t, 1, o.Snapshot().Turns)
}

func TestManager_GuestbookFlow(t *testing.T) {
	llm := services.NewMockLLMAPI()
	store := storage.NewMockStorage()
	m := newTestManager(t, llm, store)
	ctx := context.Background()

	o, _, err := m.Start(ctx, "Alex")
	require.NoError(t, err)
	id := o.Session().ID

	_, err = m.SignGuestbook(ctx, id, "Alex", "", "안녕")
	assert.ErrorIs(t, err, ErrNotEnded)

	llm.QueueResponse(modelReply("끝", alignment.Scores{Good: 4}, "", true))
	llm.QueueResponse(`{"title": "Neutral\nGood", "description": "좋은 밤."}`)
	_, _, err = m.Submit(ctx, id, "선물을 돌려줄게")
	require.NoError(t, err)

	entry, err := m.SignGuestbook(ctx, id, "Alex", "", "즐거웠어요")
	require.NoError(t, err)
	assert.Equal(t, alignment.NeutralGood, entry.Alignment)

	entries, err := m.Guestbook(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "즐거웠어요", entries[0].Message)
}

func TestManager_Sweep(t *testing.T) {
	m := newTestManager(t, services.NewMockLLMAPI(), storage.NewMockStorage())
	ctx := context.Background()

	_, _, err := m.Start(ctx, "Alex")
	require.NoError(t, err)
	_, _, err = m.Start(ctx, "Sam")
	require.NoError(t, err)

	assert.Equal(t, 0, m.Sweep(time.Now()))
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 2, m.Sweep(time.Now().Add(2*time.Hour)))
	assert.Equal(t, 0, m.Len())
}

func TestManager_SweepSkipsSessionsMidTurn(t *testing.T) {
	llm := services.NewMockLLMAPI()
	m := newTestManager(t, llm, storage.NewMockStorage())
	ctx := context.Background()

	o, _, err := m.Start(ctx, "Alex")
	require.NoError(t, err)
	id := o.Session().ID

	started := make(chan struct{})
	release := make(chan struct{})
	llm.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		close(started)
		<-release
		return &chat.ChatResponse{Message: `{"story": "경찰이 도착했습니다."}`}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := m.Submit(ctx, id, "경찰에 신고한다")
		done <- err
	}()
	<-started

	assert.True(t, o.Busy())
	assert.Equal(t, 0, m.Sweep(time.Now().Add(2*time.Hour)))
	assert.Equal(t, 1, m.Len())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, o.Busy())

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, o, got)
	assert.Equal(t, state.PhaseAwaitingAction, got.Phase())
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := newTestManager(t, services.NewMockLLMAPI(), storage.NewMockStorage())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
