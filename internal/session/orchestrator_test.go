package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
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
	"github.com/jwebster45206/alignment-engine/pkg/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orch     *Orchestrator
	llm      *services.MockLLMAPI
	store    *storage.MockStorage
	scn      *scenario.Scenario
	recorder *recorderSpy
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	scn, err := scenario.Default()
	require.NoError(t, err)

	f := &fixture{
		llm:      services.NewMockLLMAPI(),
		store:    storage.NewMockStorage(),
		scn:      scn,
		recorder: &recorderSpy{},
	}
	opts := Options{
		Scenario: scn,
		LLM:      f.llm,
		Gateway:  f.store,
		Logger:   logger.Discard(),
		Recorder: f.recorder,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	f.orch, err = New(opts)
	require.NoError(t, err)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	_, err := f.orch.StartSession(context.Background(), "Alex")
	require.NoError(t, err)
}

// modelReply renders the JSON object the game-master persona asks for.
func modelReply(story string, delta alignment.Scores, die string, ended bool) string {
	payload := map[string]any{
		"story": story,
		"alignmentScores": map[string]int{
			"lawful":  delta.Lawful,
			"chaotic": delta.Chaotic,
			"good":    delta.Good,
			"evil":    delta.Evil,
		},
		"diceRequest": nil,
		"gameEnded":   ended,
	}
	if die != "" {
		payload["diceRequest"] = map[string]string{"type": die, "description": "청년을 붙잡는다"}
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

type recorderSpy struct {
	mu        sync.Mutex
	outcomes  []string
	calls     []string
	fallbacks int
	ended     []alignment.Label
	gateway   []string
}

func (r *recorderSpy) TurnCompleted(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorderSpy) ModelCall(kind string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		kind += ":error"
	}
	r.calls = append(r.calls, kind)
}

func (r *recorderSpy) FallbackApplied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks++
}

func (r *recorderSpy) SessionEnded(label alignment.Label, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, label)
}

func (r *recorderSpy) GatewayFailure(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateway = append(r.gateway, op)
}

func TestNew_RequiresScenarioAndLLM(t *testing.T) {
	scn, err := scenario.Default()
	require.NoError(t, err)

	_, err = New(Options{LLM: services.NewMockLLMAPI()})
	assert.Error(t, err)

	_, err = New(Options{Scenario: scn})
	assert.Error(t, err)

	o, err := New(Options{Scenario: scn, LLM: services.NewMockLLMAPI()})
	require.NoError(t, err)
	assert.Equal(t, state.PhaseIdle, o.Phase())
	assert.Nil(t, o.Session())
}

func TestStartSession_SurfacesPrologue(t *testing.T) {
	f := newFixture(t)

	events, err := f.orch.StartSession(context.Background(), "Alex")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, state.Narration(f.scn.Prologue, false), events[0])
	assert.Equal(t, state.PhaseAwaitingAction, f.orch.Phase())
	assert.True(t, f.orch.Scores().IsZero())
	assert.Empty(t, f.orch.History())
	assert.Empty(t, f.llm.GetCalls(), "the prologue must not call the model")

	sess := f.orch.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "Alex", sess.PlayerName)
	assert.True(t, sess.Persisted)

	stored, ok := f.store.Session(sess.ID)
	require.True(t, ok)
	require.Len(t, stored.Logs, 1)
	assert.Equal(t, chat.ChatRoleSystem, stored.Logs[0].Role)
	assert.Equal(t, f.scn.Prologue, stored.Logs[0].Content)
}

func TestStartSession_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartSession(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, state.PhaseIdle, f.orch.Phase())

	f.start(t)
	_, err = f.orch.StartSession(ctx, "Sam")
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, "Alex", f.orch.Session().PlayerName)
}

func TestSubmit_PhaseErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Submit(ctx, "문을 연다")
	assert.ErrorIs(t, err, ErrNoSession)

	f.start(t)
	_, err = f.orch.Submit(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.llm.GetCalls())
}

func TestSubmit_NarrationTurn(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	raw := modelReply("구슬이 따스하게 빛납니다.", alignment.Scores{Good: 2}, "", false)
	f.llm.QueueResponse(raw)

	events, err := f.orch.Submit(context.Background(), "구슬을 살펴본다")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, state.EventNarration, events[0].Type)
	assert.Equal(t, "구슬이 따스하게 빛납니다.", events[0].Text)
	assert.False(t, events[0].Degraded)

	assert.Equal(t, state.PhaseAwaitingAction, f.orch.Phase())
	assert.Equal(t, alignment.Scores{Good: 2}, f.orch.Scores())

	// The model sees persona, then the wrapped action.
	call, ok := f.llm.LastCall()
	require.True(t, ok)
	require.Len(t, call.Messages, 2)
	assert.Equal(t, chat.ChatRoleSystem, call.Messages[0].Role)
	assert.Equal(t, f.scn.Persona, call.Messages[0].Content)
	assert.Equal(t, f.scn.ActionMessage("구슬을 살펴본다"), call.Messages[1].Content)

	// History keeps the wrapped action and the raw reply.
	assert.Equal(t, []chat.ChatMessage{
		{Role: chat.ChatRoleUser, Content: f.scn.ActionMessage("구슬을 살펴본다")},
		{Role: chat.ChatRoleAgent, Content: raw},
	}, f.orch.History())

	// The transcript keeps the raw action and the story.
	stored, ok := f.store.Session(f.orch.Session().ID)
	require.True(t, ok)
	require.Len(t, stored.Logs, 3)
	assert.Equal(t, "구슬을 살펴본다", stored.Logs[1].Content)
	assert.Equal(t, chat.ChatRoleUser, stored.Logs[1].Role)
	assert.Equal(t, "구슬이 따스하게 빛납니다.", stored.Logs[2].Content)
	assert.Equal(t, chat.ChatRoleAgent, stored.Logs[2].Role)

	assert.Equal(t, []string{OutcomeNarration}, f.recorder.outcomes)
	assert.Equal(t, []string{CallTurn}, f.recorder.calls)
}

func TestSubmit_HistoryCarriesIntoNextCall(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.HistoryLimit = 4 })
	f.start(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.llm.QueueResponse(modelReply("장면 "+strconv.Itoa(i), alignment.Scores{}, "", false))
		_, err := f.orch.Submit(ctx, "행동 "+strconv.Itoa(i))
		require.NoError(t, err)
	}

	history := f.orch.History()
	require.Len(t, history, 4)
	assert.Equal(t, f.scn.ActionMessage("행동 1"), history[0].Content)
	assert.Equal(t, chat.ChatRoleAgent, history[3].Role)

	// The third call saw persona, both earlier exchanges, and the new action.
	calls := f.llm.GetCalls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[2].Messages, 6)
}

func TestSubmit_FallbackScorer(t *testing.T) {
	tests := []struct {
		name      string
		delta     alignment.Scores
		input     string
		want      alignment.Scores
		fallbacks int
	}{
		{
			name:      "zero delta uses keywords",
			input:     "경찰에 신고한다",
			want:      alignment.Scores{Lawful: 2},
			fallbacks: 1,
		},
		{
			name:  "model delta wins over keywords",
			delta: alignment.Scores{Chaotic: 1},
			input: "경찰에 신고한다",
			want:  alignment.Scores{Chaotic: 1},
		},
		{
			name:  "neutral marker yields nothing",
			input: "잠깐, 경찰에 신고할지 생각해본다",
			want:  alignment.Scores{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.start(t)
			f.llm.QueueResponse(modelReply("장면", tt.delta, "", false))

			_, err := f.orch.Submit(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.orch.Scores())
			assert.Equal(t, tt.fallbacks, f.recorder.fallbacks)
		})
	}
}

func TestSubmit_DegradedReply(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.llm.QueueResponse("그냥 평범한 문장입니다.")

	events, err := f.orch.Submit(context.Background(), "규칙대로 처리한다")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "그냥 평범한 문장입니다.", events[0].Text)
	assert.True(t, events[0].Degraded)
	assert.Equal(t, state.PhaseAwaitingAction, f.orch.Phase())
	// Degraded replies carry no delta, so the keywords decide.
	assert.Equal(t, alignment.Scores{Lawful: 2}, f.orch.Scores())
	assert.Equal(t, []string{OutcomeDegraded}, f.recorder.outcomes)
}

func TestSubmit_DiceRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	f.llm.QueueResponse(modelReply("청년이 도망칩니다!", alignment.Scores{}, "D20", false))
	events, err := f.orch.Submit(ctx, "청년을 쫓는다")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, state.EventNarration, events[0].Type)
	assert.Equal(t, state.EventDiceRequested, events[1].Type)
	require.NotNil(t, events[1].Dice)
	assert.Equal(t, 20, events[1].Dice.UpperBound)
	assert.Equal(t, f.scn.DicePrompt("청년을 붙잡는다", "D20", 20), events[1].Text)
	assert.Equal(t, state.PhaseAwaitingDiceRoll, f.orch.Phase())

	// Out of range: corrective prompt, nothing else happens.
	events, err = f.orch.Submit(ctx, "25")
	var rollErr *RollError
	require.ErrorAs(t, err, &rollErr)
	assert.ErrorIs(t, err, ErrInvalidRoll)
	assert.Equal(t, 20, rollErr.Max)
	assert.Equal(t, []state.Event{state.Prompt(f.scn.OutOfRangePrompt(20))}, events)
	assert.Equal(t, state.PhaseAwaitingDiceRoll, f.orch.Phase())
	assert.NotNil(t, f.orch.PendingDice())
	assert.Len(t, f.llm.GetCalls(), 1)

	// A valid roll goes to the model as a directive naming the value.
	f.llm.QueueResponse(modelReply("청년을 붙잡았습니다.", alignment.Scores{Lawful: 1}, "", false))
	events, err = f.orch.Submit(ctx, "14")
	require.NoError(t, err)
	require.Len(t, events, 1)

	call, ok := f.llm.LastCall()
	require.True(t, ok)
	last := call.Messages[len(call.Messages)-1]
	assert.Equal(t, chat.ChatRoleUser, last.Role)
	assert.Equal(t, f.scn.DiceRollMessage(14, "D20"), last.Content)
	assert.Contains(t, last.Content, "14")

	assert.Equal(t, state.PhaseAwaitingAction, f.orch.Phase())
	assert.Nil(t, f.orch.PendingDice())

	stored, ok := f.store.Session(f.orch.Session().ID)
	require.True(t, ok)
	assert.Equal(t, "주사위 굴림: 14 (D20)", stored.Logs[3].Content)
}

func TestSubmit_DiceValidation(t *testing.T) {
	rejected := []struct {
		input  string
		prompt func(*scenario.Scenario) string
	}{
		{"0", func(s *scenario.Scenario) string { return s.OutOfRangePrompt(20) }},
		{"-1", func(s *scenario.Scenario) string { return s.OutOfRangePrompt(20) }},
		{"21", func(s *scenario.Scenario) string { return s.OutOfRangePrompt(20) }},
		{"abc", func(s *scenario.Scenario) string { return s.Messages.NotANumber }},
		{"1.5", func(s *scenario.Scenario) string { return s.Messages.NotANumber }},
		{"열넷", func(s *scenario.Scenario) string { return s.Messages.NotANumber }},
	}

	atDicePhase := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.start(t)
		f.llm.QueueResponse(modelReply("굴려라", alignment.Scores{}, "D20", false))
		_, err := f.orch.Submit(context.Background(), "청년을 쫓는다")
		require.NoError(t, err)
		require.Equal(t, state.PhaseAwaitingDiceRoll, f.orch.Phase())
		return f
	}

	for _, tt := range rejected {
		t.Run("rejects "+tt.input, func(t *testing.T) {
			f := atDicePhase(t)
			before := f.orch.Snapshot()

			events, err := f.orch.Submit(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidRoll)
			assert.Equal(t, []state.Event{state.Prompt(tt.prompt(f.scn))}, events)
			assert.Equal(t, before, f.orch.Snapshot())
			assert.Len(t, f.llm.GetCalls(), 1)
		})
	}

	for roll := 1; roll <= 20; roll++ {
		t.Run("accepts "+strconv.Itoa(roll), func(t *testing.T) {
			f := atDicePhase(t)
			f.llm.QueueResponse(modelReply("다음 장면", alignment.Scores{}, "", false))

			_, err := f.orch.Submit(context.Background(), strconv.Itoa(roll))
			require.NoError(t, err)
			assert.Nil(t, f.orch.PendingDice())
			assert.Equal(t, state.PhaseAwaitingAction, f.orch.Phase())
		})
	}
}

func TestSubmit_ModelFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	f.llm.QueueResponse(modelReply("청년이 말합니다.", alignment.Scores{Good: 1}, "D6", false))
	_, err := f.orch.Submit(ctx, "청년에게 말을 건다")
	require.NoError(t, err)
	before := f.orch.Snapshot()

	f.llm.QueueError(errors.New("connection refused"))
	events, err := f.orch.Submit(ctx, "4")

	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.ErrorIs(t, err, ErrModelCall)
	require.Len(t, events, 1)
	assert.Equal(t, state.EventError, events[0].Type)
	assert.Contains(t, events[0].Text, "connection refused")
	assert.Equal(t, modelErr.Narration, events[0].Text)

	assert.Equal(t, before, f.orch.Snapshot())
	assert.Equal(t, []string{OutcomeDice, OutcomeError}, f.recorder.outcomes)

	// The same roll can be retried.
	f.llm.QueueResponse(modelReply("성공!", alignment.Scores{}, "", false))
	_, err = f.orch.Submit(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, state.PhaseAwaitingAction, f.orch.Phase())
	assert.Equal(t, 2, f.orch.Snapshot().Turns)
}

func TestSubmit_EndsSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	id := f.orch.Session().ID

	var completedBeforeEpilogue bool
	calls := 0
	f.llm.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		calls++
		if calls == 1 {
			return &chat.ChatResponse{Message: modelReply("선물은 제자리로 돌아갔습니다.", alignment.Scores{Lawful: 3}, "", true)}, nil
		}
		stored, _ := f.store.Session(id)
		completedBeforeEpilogue = stored.CompletedAt != nil
		return &chat.ChatResponse{Message: `{"title": "Lawful\nNeutral", "description": "다음날 아침, 문 앞에 편지가 놓여 있었습니다."}`}, nil
	}

	events, err := f.orch.Submit(ctx, "택배를 돌려보낸다")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, state.EventNarration, events[0].Type)
	ended := events[1]
	assert.Equal(t, state.EventSessionEnded, ended.Type)
	assert.Equal(t, alignment.LawfulNeutral, ended.Alignment)
	require.NotNil(t, ended.Epilogue)
	assert.Equal(t, "Lawful\nNeutral", ended.Epilogue.Title)
	assert.False(t, ended.Epilogue.Fallback)
	assert.Equal(t, alignment.Scores{Lawful: 3}, *ended.Scores)

	assert.Equal(t, state.PhaseEnded, f.orch.Phase())
	assert.True(t, completedBeforeEpilogue)
	assert.Equal(t, alignment.LawfulNeutral, f.orch.Session().Outcome)
	assert.True(t, f.orch.Session().Ended())

	stored, ok := f.store.Session(id)
	require.True(t, ok)
	assert.Equal(t, alignment.LawfulNeutral, stored.Outcome)
	assert.Equal(t, alignment.Scores{Lawful: 3}, stored.Scores)

	// The epilogue call uses its own persona and names the outcome.
	epilogueCall := f.llm.GetCalls()[1]
	assert.Equal(t, f.scn.Epilogue.Persona, epilogueCall.Messages[0].Content)
	prompt := epilogueCall.Messages[len(epilogueCall.Messages)-1].Content
	assert.Contains(t, prompt, "Lawful Neutral")
	assert.Contains(t, prompt, f.scn.ActionMessage("택배를 돌려보낸다"))

	_, err = f.orch.Submit(ctx, "또 한다")
	assert.ErrorIs(t, err, ErrSessionEnded)

	assert.Equal(t, []string{CallTurn, CallEpilogue}, f.recorder.calls)
	assert.Equal(t, []alignment.Label{alignment.LawfulNeutral}, f.recorder.ended)
}

func TestSubmit_RefreshesActivityBeforeModelCall(t *testing.T) {
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, func(o *Options) {
		o.Now = func() time.Time { return clock }
	})
	f.start(t)
	require.Equal(t, clock, f.orch.UpdatedAt())

	clock = clock.Add(3 * time.Hour)
	var seen time.Time
	f.llm.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		seen = f.orch.UpdatedAt()
		return &chat.ChatResponse{Message: modelReply("경찰이 도착했습니다.", alignment.Scores{Lawful: 1}, "", false)}, nil
	}

	_, err := f.orch.Submit(context.Background(), "경찰에 신고한다")
	require.NoError(t, err)
	assert.Equal(t, clock, seen)
	assert.False(t, f.orch.Busy())
}

func TestSubmit_StorylessReplyStillCounts(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	id := f.orch.Session().ID

	raw := `{"alignmentScores":{"lawful":3,"good":2},"diceRequest":null,"gameEnded":true}`
	f.llm.QueueResponse(raw)
	f.llm.QueueResponse(`{"title": "Lawful\nGood", "description": "모두가 무사히 집에 돌아갔습니다."}`)

	events, err := f.orch.Submit(context.Background(), "창문을 연다")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, state.EventSessionEnded, events[0].Type)
	assert.Equal(t, alignment.LawfulGood, events[0].Alignment)
	assert.Equal(t, state.PhaseEnded, f.orch.Phase())
	assert.Equal(t, alignment.Scores{Lawful: 3, Good: 2}, f.orch.Scores())
	assert.Zero(t, f.recorder.fallbacks)

	stored, ok := f.store.Session(id)
	require.True(t, ok)
	require.NotEmpty(t, stored.Logs)
	last := stored.Logs[len(stored.Logs)-1]
	assert.Equal(t, chat.ChatRoleAgent, last.Role)
	assert.Equal(t, raw, last.Content)
}

func TestSubmit_EndedTakesPrecedenceOverDice(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.llm.QueueResponse(modelReply("끝.", alignment.Scores{}, "D20", true))
	f.llm.QueueResponse(`{"title": "True\nNeutral", "description": "조용한 밤이었습니다."}`)

	events, err := f.orch.Submit(context.Background(), "문을 닫는다")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, state.EventSessionEnded, events[1].Type)
	assert.Equal(t, state.PhaseEnded, f.orch.Phase())
	assert.Nil(t, f.orch.PendingDice())
}

func TestSubmit_EpilogueFallback(t *testing.T) {
	tests := []struct {
		name  string
		reply func(*services.MockLLMAPI)
	}{
		{"call fails", func(m *services.MockLLMAPI) { m.QueueError(errors.New("timeout")) }},
		{"missing description", func(m *services.MockLLMAPI) { m.QueueResponse(`{"title": "X"}`) }},
		{"not json", func(m *services.MockLLMAPI) { m.QueueResponse("에필로그") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			epilogueLLM := services.NewMockLLMAPI()
			f := newFixture(t, func(o *Options) { o.EpilogueLLM = epilogueLLM })
			f.start(t)
			f.llm.QueueResponse(modelReply("끝.", alignment.Scores{}, "", true))
			tt.reply(epilogueLLM)

			events, err := f.orch.Submit(context.Background(), "잠깐 생각해본다")
			require.NoError(t, err)

			require.Len(t, events, 2)
			ep := events[1].Epilogue
			require.NotNil(t, ep)
			assert.True(t, ep.Fallback)
			assert.Equal(t, "True\nNeutral", ep.Title)
			assert.Equal(t, f.scn.DefaultEpilogueDescription(alignment.TrueNeutral), ep.Description)
			assert.Equal(t, state.PhaseEnded, f.orch.Phase())

			assert.Len(t, f.llm.GetCalls(), 1)
			assert.Len(t, epilogueLLM.GetCalls(), 1)
		})
	}
}

func TestGameplayWithoutStorage(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Gateway = storage.Disabled{} })
	ctx := context.Background()

	_, err := f.orch.StartSession(ctx, "Alex")
	require.NoError(t, err)
	sess := f.orch.Session()
	assert.False(t, sess.Persisted)
	assert.NotEqual(t, uuid.Nil, sess.ID)

	f.llm.QueueResponse(modelReply("끝.", alignment.Scores{Good: 5}, "", true))
	f.llm.QueueResponse(`{"title": "Neutral\nGood", "description": "따뜻한 밤이었습니다."}`)
	events, err := f.orch.Submit(ctx, "선물을 돌려줄게")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, state.PhaseEnded, f.orch.Phase())

	// Only the session create failed; log and completion writes were skipped.
	assert.Equal(t, []string{"create_session"}, f.recorder.gateway)

	_, err = f.orch.SignGuestbook(ctx, "Alex", "", "재밌었어요")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	_, err = f.orch.Guestbook(ctx, 10)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestGameplaySurvivesStoreErrors(t *testing.T) {
	f := newFixture(t)
	f.store.SetFailure(storage.OpAppendLog, errors.New("disk full"))
	f.start(t)

	f.llm.QueueResponse(modelReply("장면", alignment.Scores{}, "", false))
	_, err := f.orch.Submit(context.Background(), "본다")
	require.NoError(t, err)
	assert.True(t, f.orch.Session().Persisted)
	assert.Equal(t, []string{"append_log", "append_log", "append_log"}, f.recorder.gateway)
}

func TestGoHome(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	id := f.orch.Session().ID

	f.llm.QueueResponse(modelReply("장면", alignment.Scores{Evil: 2}, "D20", false))
	_, err := f.orch.Submit(context.Background(), "협박한다")
	require.NoError(t, err)

	require.NoError(t, f.orch.GoHome())
	assert.Equal(t, state.PhaseIdle, f.orch.Phase())
	assert.Nil(t, f.orch.Session())
	assert.Nil(t, f.orch.PendingDice())
	assert.True(t, f.orch.Scores().IsZero())
	assert.Empty(t, f.orch.History())

	stored, ok := f.store.Session(id)
	require.True(t, ok)
	assert.Nil(t, stored.CompletedAt, "abandoning must not complete the session")
	assert.NotContains(t, f.store.Calls(), storage.OpCompleteSession)

	// A fresh session starts clean.
	f.start(t)
	assert.NotEqual(t, id, f.orch.Session().ID)
}

func TestOneOperationAtATime(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.llm.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		close(entered)
		<-release
		return &chat.ChatResponse{Message: modelReply("장면", alignment.Scores{}, "", false)}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Submit(context.Background(), "첫 번째")
		done <- err
	}()
	<-entered

	_, err := f.orch.Submit(context.Background(), "두 번째")
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.ErrorIs(t, f.orch.GoHome(), ErrTurnInProgress)
	// Reads stay available while a turn is running.
	assert.Equal(t, state.PhaseAwaitingAction, f.orch.Phase())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.orch.Snapshot().Turns)
}

func TestSignGuestbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)

	_, err := f.orch.SignGuestbook(ctx, "Alex", "", "안녕")
	assert.ErrorIs(t, err, ErrNotEnded)

	f.llm.QueueResponse(modelReply("끝.", alignment.Scores{Chaotic: 5, Evil: 5}, "", true))
	f.llm.QueueResponse(`{"title": "Chaotic\nEvil", "description": "..."}`)
	_, err = f.orch.Submit(ctx, "구슬을 훔쳐 달아난다")
	require.NoError(t, err)

	_, err = f.orch.SignGuestbook(ctx, "", "", "안녕")
	assert.ErrorIs(t, err, ErrGuestbookInvalid)

	entry, err := f.orch.SignGuestbook(ctx, " Alex ", "alex@example.com", "씨발 재밌었다")
	require.NoError(t, err)
	assert.Equal(t, "Alex", entry.Nickname)
	assert.Equal(t, "** 재밌었다", entry.Message)
	assert.Equal(t, alignment.ChaoticEvil, entry.Alignment)
	require.NotNil(t, entry.SessionID)
	assert.Equal(t, f.orch.Session().ID, *entry.SessionID)

	entries, err := f.orch.Guestbook(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestListenerOrder(t *testing.T) {
	var got []string
	listener := ListenerFuncs{
		Narration:     func(text string) { got = append(got, "narration:"+text) },
		DiceRequested: func(_ string, upper int) { got = append(got, "dice:"+strconv.Itoa(upper)) },
		SessionEnded:  func(label alignment.Label, _ turn.Epilogue) { got = append(got, "ended:"+label.String()) },
		Error:         func(string) { got = append(got, "error") },
		Prompt:        func(string) { got = append(got, "prompt") },
	}
	f := newFixture(t, func(o *Options) { o.Listener = listener })
	ctx := context.Background()
	f.start(t)

	f.llm.QueueResponse(modelReply("굴려라", alignment.Scores{}, "D6", false))
	f.llm.QueueError(errors.New("boom"))
	f.llm.QueueResponse(modelReply("끝", alignment.Scores{}, "", true))
	f.llm.QueueError(errors.New("boom"))

	_, err := f.orch.Submit(ctx, "쫓는다")
	require.NoError(t, err)
	_, err = f.orch.Submit(ctx, "7")
	require.Error(t, err)
	_, err = f.orch.Submit(ctx, "3")
	require.Error(t, err)
	_, err = f.orch.Submit(ctx, "3")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"narration:" + f.scn.Prologue,
		"narration:굴려라",
		"dice:6",
		"prompt",
		"error",
		"narration:끝",
		"ended:True Neutral",
	}, got)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.llm.QueueResponse(modelReply("굴려라", alignment.Scores{Good: 1}, "D12", false))
	_, err := f.orch.Submit(context.Background(), "돕는다")
	require.NoError(t, err)

	snap := f.orch.Snapshot()
	assert.Equal(t, state.PhaseAwaitingDiceRoll, snap.Phase)
	assert.Equal(t, f.orch.Session().ID, snap.SessionID())

	restored := newFixture(t, func(o *Options) {
		o.LLM = f.llm
		o.Gateway = f.store
	})
	require.NoError(t, restored.orch.Restore(snap))
	assert.Equal(t, snap, restored.orch.Snapshot())
	assert.Equal(t, 12, restored.orch.PendingDice().UpperBound)

	f.llm.QueueResponse(modelReply("좋아요", alignment.Scores{}, "", false))
	_, err = restored.orch.Submit(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, alignment.Scores{Good: 1}, restored.orch.Scores())
	assert.Len(t, restored.orch.History(), 4)

	// Only an idle orchestrator can be restored into.
	assert.ErrorIs(t, restored.orch.Restore(snap), ErrSessionActive)
}

func TestRestore_RejectsInconsistentSnapshots(t *testing.T) {
	f := newFixture(t)
	sess := &state.Session{PlayerName: "Alex"}

	tests := []struct {
		name string
		snap *state.Snapshot
	}{
		{"nil", nil},
		{"unknown phase", &state.Snapshot{Phase: "lost", Session: sess}},
		{"active without session", &state.Snapshot{Phase: state.PhaseAwaitingAction}},
		{"dice phase without dice", &state.Snapshot{Phase: state.PhaseAwaitingDiceRoll, Session: sess}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, f.orch.Restore(tt.snap))
			assert.Equal(t, state.PhaseIdle, f.orch.Phase())
		})
	}
}
