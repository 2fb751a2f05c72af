package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/internal/logger"
	"github.com/jwebster45206/alignment-engine/internal/services"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"github.com/jwebster45206/alignment-engine/pkg/prompts"
	"github.com/jwebster45206/alignment-engine/pkg/scenario"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	"github.com/jwebster45206/alignment-engine/pkg/textfilter"
	"github.com/jwebster45206/alignment-engine/pkg/turn"
)

// Options configures an Orchestrator. Scenario and LLM are required.
type Options struct {
	Scenario *scenario.Scenario
	LLM      services.LLMService
	// EpilogueLLM serves the closing call; defaults to LLM.
	EpilogueLLM services.LLMService
	// Gateway defaults to storage.Disabled.
	Gateway storage.Gateway

	Logger   *slog.Logger
	Recorder Recorder
	Listener Listener

	HistoryLimit int
	// GuestbookFilter defaults to a filter built from the scenario.
	GuestbookFilter *textfilter.ProfanityFilter
	Now             func() time.Time
}

// Orchestrator runs one playthrough: Idle, then AwaitingAction and
// AwaitingDiceRoll until the model ends the game, then Ended. It processes
// one operation at a time; an operation that arrives while another is
// running fails with ErrTurnInProgress.
type Orchestrator struct {
	scenario    *scenario.Scenario
	scorer      *alignment.Scorer
	llm         services.LLMService
	epilogueLLM services.LLMService
	gateway     storage.Gateway
	logger      *slog.Logger
	recorder    Recorder
	listener    Listener
	filter      *textfilter.ProfanityFilter
	now         func() time.Time

	// op is held for the whole of an operation; busy mirrors it so the
	// manager can check without contending for the lock.
	op   sync.Mutex
	busy atomic.Bool

	// mu guards the fields below. Only the holder of op writes them.
	mu          sync.RWMutex
	phase       state.Phase
	session     *state.Session
	scores      alignment.Scores
	history     *chat.History
	pendingDice *turn.DiceRequest
	epilogue    *turn.Epilogue
	turns       int
	updatedAt   time.Time
}

// New builds an idle orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Scenario == nil {
		return nil, errors.New("scenario is required")
	}
	if opts.LLM == nil {
		return nil, errors.New("llm service is required")
	}
	if opts.EpilogueLLM == nil {
		opts.EpilogueLLM = opts.LLM
	}
	if opts.Gateway == nil {
		opts.Gateway = storage.Disabled{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Listener == nil {
		opts.Listener = ListenerFuncs{}
	}
	if opts.GuestbookFilter == nil {
		opts.GuestbookFilter = textfilter.NewProfanityFilter(opts.Scenario.GuestbookFilter)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		scenario:    opts.Scenario,
		scorer:      alignment.NewScorer(opts.Scenario.Keywords),
		llm:         opts.LLM,
		epilogueLLM: opts.EpilogueLLM,
		gateway:     opts.Gateway,
		logger:      opts.Logger,
		recorder:    opts.Recorder,
		listener:    opts.Listener,
		filter:      opts.GuestbookFilter,
		now:         opts.Now,
		phase:       state.PhaseIdle,
		history:     chat.NewHistory(opts.HistoryLimit),
	}, nil
}

// begin claims the orchestrator for one operation and marks it active.
// Every successful begin is paired with a deferred end.
func (o *Orchestrator) begin() error {
	if !o.op.TryLock() {
		return ErrTurnInProgress
	}
	o.busy.Store(true)
	o.mu.Lock()
	o.updatedAt = o.now()
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) end() {
	o.busy.Store(false)
	o.op.Unlock()
}

// Busy reports whether an operation is running.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// StartSession opens a session for playerName and surfaces the prologue.
// The model is not called.
func (o *Orchestrator) StartSession(ctx context.Context, playerName string) ([]state.Event, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	if o.Phase() != state.PhaseIdle {
		return nil, ErrSessionActive
	}
	playerName = strings.TrimSpace(playerName)
	if playerName == "" {
		return nil, ErrEmptyInput
	}

	sess := &state.Session{PlayerName: playerName, CreatedAt: o.now()}
	id, err := o.gateway.CreateSession(ctx, playerName)
	if err != nil {
		o.gatewayFailed("create_session", err)
		sess.ID = uuid.New()
	} else {
		sess.ID = id
		sess.Persisted = true
	}
	log := o.logger.With("session_id", sess.ID)

	if sess.Persisted {
		if err := o.gateway.AppendLog(ctx, sess.ID, chat.ChatRoleSystem, o.scenario.Prologue); err != nil {
			o.gatewayFailed("append_log", err)
		}
	}

	o.mu.Lock()
	o.session = sess
	o.phase = state.PhaseAwaitingAction
	o.scores = alignment.Scores{}
	o.history.Reset()
	o.pendingDice = nil
	o.epilogue = nil
	o.turns = 0
	o.updatedAt = o.now()
	o.mu.Unlock()

	log.Info("Session started", "player_name", playerName, "persisted", sess.Persisted)
	o.listener.OnNarration(o.scenario.Prologue)
	return []state.Event{state.Narration(o.scenario.Prologue, false)}, nil
}

// Submit takes the player's next input. In AwaitingAction it is a free-text
// action; in AwaitingDiceRoll it must be a number within the pending die.
//
// On a rejected roll Submit returns a *RollError and the corrective prompt
// as its only event. On a model failure it returns a *ModelError and the
// error narration as its only event. State is unchanged in both cases.
func (o *Orchestrator) Submit(ctx context.Context, input string) ([]state.Event, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	switch o.Phase() {
	case state.PhaseIdle:
		return nil, ErrNoSession
	case state.PhaseEnded:
		return nil, ErrSessionEnded
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	o.mu.RLock()
	pending := o.pendingDice
	o.mu.RUnlock()

	if pending != nil {
		roll, rollErr := o.validateRoll(input, pending)
		if rollErr != nil {
			o.listener.OnPrompt(rollErr.Prompt)
			return []state.Event{state.Prompt(rollErr.Prompt)}, rollErr
		}
		return o.runTurn(ctx, turnInput{
			modelMessage: o.scenario.DiceRollMessage(roll, pending.Type),
			logContent:   o.scenario.DiceLogEntry(roll, pending.Type),
			scoringText:  input,
		})
	}

	return o.runTurn(ctx, turnInput{
		modelMessage: o.scenario.ActionMessage(input),
		logContent:   input,
		scoringText:  input,
	})
}

func (o *Orchestrator) validateRoll(input string, pending *turn.DiceRequest) (int, *RollError) {
	roll, err := strconv.Atoi(input)
	if err != nil {
		return 0, &RollError{Input: input, Max: pending.UpperBound, Prompt: o.scenario.Messages.NotANumber}
	}
	if roll < 1 || roll > pending.UpperBound {
		return 0, &RollError{Input: input, Max: pending.UpperBound, Prompt: o.scenario.OutOfRangePrompt(pending.UpperBound)}
	}
	return roll, nil
}

type turnInput struct {
	modelMessage string // what the model sees and history keeps
	logContent   string // what the transcript keeps
	scoringText  string // what the fallback scorer reads
}

// runTurn must be called with op held and a session in an accepting phase.
// Nothing is committed until the model call has succeeded.
func (o *Orchestrator) runTurn(ctx context.Context, in turnInput) ([]state.Event, error) {
	o.mu.RLock()
	sess := o.session
	scores := o.scores
	o.mu.RUnlock()
	log := o.logger.With("session_id", sess.ID)

	o.appendLog(ctx, sess, chat.ChatRoleUser, in.logContent)

	messages, err := prompts.TurnMessages(o.scenario, o.history, in.modelMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	started := o.now()
	resp, err := o.llm.Chat(ctx, messages)
	o.recorder.ModelCall(CallTurn, o.now().Sub(started), err)
	if err != nil {
		log.Error("Model call failed", "error", err)
		narration := o.scenario.ErrorNarration(err)
		o.recorder.TurnCompleted(OutcomeError)
		o.listener.OnError(narration)
		return []state.Event{state.ErrorNarration(narration)}, &ModelError{Narration: narration, Err: err}
	}

	result := turn.Parse(resp.Message)
	if result.Degraded {
		log.Warn("Model payload was not valid turn JSON; using raw text", "length", len(resp.Message))
	}
	if result.DiceDropped {
		log.Warn("Dropped dice request with an unusable die type")
	}

	logged := result.Narrative
	if logged == "" {
		logged = resp.Message
	}
	o.appendLog(ctx, sess, chat.ChatRoleAgent, logged)

	delta := result.Delta
	if delta.IsZero() {
		delta = o.scorer.Score(in.scoringText)
		if !delta.IsZero() {
			o.recorder.FallbackApplied()
			log.Debug("Applied keyword fallback score", "delta", delta.String())
		}
	}
	scores.Apply(delta)

	var events []state.Event
	if result.Narrative != "" {
		events = append(events, state.Narration(result.Narrative, result.Degraded))
		o.listener.OnNarration(result.Narrative)
	}

	o.mu.Lock()
	o.scores = scores
	o.history.Append(in.modelMessage, resp.Message)
	o.turns++
	o.pendingDice = nil
	o.updatedAt = o.now()
	switch {
	case result.Ended:
		o.phase = state.PhaseEnded
	case result.Dice != nil:
		o.phase = state.PhaseAwaitingDiceRoll
		dice := *result.Dice
		o.pendingDice = &dice
	default:
		o.phase = state.PhaseAwaitingAction
	}
	phase := o.phase
	o.mu.Unlock()

	log.Info("Turn completed", "phase", phase, "delta", delta.String(), "scores", scores.String())

	switch {
	case result.Ended:
		if result.Dice != nil {
			log.Debug("Ignoring dice request on the final turn")
		}
		events = append(events, o.finish(ctx, sess, scores))
		o.recorder.TurnCompleted(OutcomeEnded)
	case result.Dice != nil:
		prompt := o.scenario.DicePrompt(result.Dice.Description, result.Dice.Type, result.Dice.UpperBound)
		events = append(events, state.DiceRequested(prompt, *result.Dice))
		o.listener.OnDiceRequested(prompt, result.Dice.UpperBound)
		o.recorder.TurnCompleted(OutcomeDice)
	case result.Degraded:
		o.recorder.TurnCompleted(OutcomeDegraded)
	default:
		o.recorder.TurnCompleted(OutcomeNarration)
	}
	return events, nil
}

// finish categorises the final scores, records completion and produces the
// epilogue. It always yields a session-ended event.
func (o *Orchestrator) finish(ctx context.Context, sess *state.Session, scores alignment.Scores) state.Event {
	log := o.logger.With("session_id", sess.ID)
	label := scores.Categorize()
	completedAt := o.now()

	o.mu.Lock()
	o.session.CompletedAt = &completedAt
	o.session.Outcome = label
	o.mu.Unlock()

	if sess.Persisted {
		if err := o.gateway.CompleteSession(ctx, sess.ID, label, scores); err != nil {
			o.gatewayFailed("complete_session", err)
		}
	}

	epilogue := o.generateEpilogue(ctx, log, label, scores)

	o.mu.Lock()
	o.epilogue = &epilogue
	o.mu.Unlock()

	log.Info("Session ended", "alignment", label, "scores", scores.String(), "fallback_epilogue", epilogue.Fallback)
	o.recorder.SessionEnded(label, epilogue.Fallback)
	o.listener.OnSessionEnded(label, epilogue)
	return state.SessionEnded(label, scores, epilogue)
}

func (o *Orchestrator) generateEpilogue(ctx context.Context, log *slog.Logger, label alignment.Label, scores alignment.Scores) turn.Epilogue {
	messages, err := prompts.EpilogueMessages(o.scenario, o.history, label, scores)
	if err != nil {
		log.Error("Failed to build epilogue prompt", "error", err)
		return o.defaultEpilogue(label)
	}

	started := o.now()
	resp, err := o.epilogueLLM.Chat(ctx, messages)
	o.recorder.ModelCall(CallEpilogue, o.now().Sub(started), err)
	if err != nil {
		log.Error("Epilogue call failed; using default epilogue", "error", err)
		return o.defaultEpilogue(label)
	}

	epilogue, ok := turn.ParseEpilogue(resp.Message)
	if !ok {
		log.Warn("Epilogue payload incomplete; using default epilogue")
		return o.defaultEpilogue(label)
	}
	return epilogue
}

func (o *Orchestrator) defaultEpilogue(label alignment.Label) turn.Epilogue {
	return turn.Epilogue{
		Title:       strings.Replace(label.String(), " ", "\n", 1),
		Description: o.scenario.DefaultEpilogueDescription(label),
		Fallback:    true,
	}
}

// GoHome abandons the current session from any phase. Completion is not
// recorded, so an unfinished session stays incomplete in the store.
func (o *Orchestrator) GoHome() error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.logger.Info("Session abandoned", "session_id", o.session.ID, "phase", o.phase)
	}
	o.reset()
	return nil
}

// reset must be called with mu held.
func (o *Orchestrator) reset() {
	o.phase = state.PhaseIdle
	o.session = nil
	o.scores = alignment.Scores{}
	o.history.Reset()
	o.pendingDice = nil
	o.epilogue = nil
	o.turns = 0
	o.updatedAt = o.now()
}

// SignGuestbook leaves a message after the session has ended. Profanity in
// the nickname and message is replaced before saving.
func (o *Orchestrator) SignGuestbook(ctx context.Context, nickname, contact, message string) (*storage.GuestbookEntry, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	o.mu.RLock()
	phase, sess := o.phase, o.session
	o.mu.RUnlock()
	if phase != state.PhaseEnded || sess == nil {
		return nil, ErrNotEnded
	}

	req := chat.GuestbookRequest{
		Nickname: strings.TrimSpace(nickname),
		Contact:  strings.TrimSpace(contact),
		Message:  strings.TrimSpace(message),
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGuestbookInvalid, err)
	}

	entry := storage.GuestbookEntry{
		Nickname:  o.filter.FilterText(req.Nickname),
		Message:   o.filter.FilterText(req.Message),
		Contact:   req.Contact,
		Alignment: sess.Outcome,
		CreatedAt: o.now(),
	}
	if sess.Persisted {
		id := sess.ID
		entry.SessionID = &id
	}

	saved, err := o.gateway.SaveGuestbookEntry(ctx, entry)
	if err != nil {
		o.gatewayFailed("save_guestbook", err)
		return nil, fmt.Errorf("failed to save guestbook entry: %w", err)
	}
	return saved, nil
}

// Guestbook lists the newest guestbook entries.
func (o *Orchestrator) Guestbook(ctx context.Context, limit int) ([]storage.GuestbookEntry, error) {
	entries, err := o.gateway.LoadGuestbookEntries(ctx, limit)
	if err != nil {
		o.gatewayFailed("load_guestbook", err)
		return nil, fmt.Errorf("failed to load guestbook: %w", err)
	}
	return entries, nil
}

func (o *Orchestrator) appendLog(ctx context.Context, sess *state.Session, role, content string) {
	if !sess.Persisted {
		return
	}
	if err := o.gateway.AppendLog(ctx, sess.ID, role, content); err != nil {
		o.gatewayFailed("append_log", err)
	}
}

func (o *Orchestrator) gatewayFailed(op string, err error) {
	o.recorder.GatewayFailure(op)
	// The bare sentinel means no store is configured.
	if err == storage.ErrUnavailable {
		o.logger.Debug("Storage unavailable", "op", op)
		return
	}
	logger.WithError(o.logger, err).Warn("Storage operation failed", "op", op)
}

// Snapshot captures the orchestrator's state for hosting across restarts.
func (o *Orchestrator) Snapshot() *state.Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := &state.Snapshot{
		Phase:        o.phase,
		Scores:       o.scores,
		History:      o.history.Messages(),
		HistoryLimit: o.history.Limit(),
		Turns:        o.turns,
		UpdatedAt:    o.updatedAt,
	}
	if o.session != nil {
		sess := *o.session
		snap.Session = &sess
	}
	if o.pendingDice != nil {
		dice := *o.pendingDice
		snap.PendingDice = &dice
	}
	if o.epilogue != nil {
		ep := *o.epilogue
		snap.Epilogue = &ep
	}
	return snap
}

// Restore loads a snapshot into an idle orchestrator.
func (o *Orchestrator) Restore(snap *state.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot is nil")
	}
	if !snap.Phase.Valid() {
		return fmt.Errorf("snapshot has unknown phase %q", snap.Phase)
	}
	if snap.Phase != state.PhaseIdle && snap.Session == nil {
		return fmt.Errorf("snapshot in phase %q has no session", snap.Phase)
	}
	if (snap.Phase == state.PhaseAwaitingDiceRoll) != (snap.PendingDice != nil) {
		return errors.New("snapshot pending dice does not match its phase")
	}
	if snap.PendingDice != nil && snap.PendingDice.UpperBound < 1 {
		return errors.New("snapshot pending dice has no upper bound")
	}

	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != state.PhaseIdle {
		return ErrSessionActive
	}

	o.phase = snap.Phase
	if snap.Session != nil {
		sess := *snap.Session
		o.session = &sess
	}
	o.scores = snap.Scores
	limit := snap.HistoryLimit
	if limit <= 0 {
		limit = o.history.Limit()
	}
	o.history = chat.RestoreHistory(limit, snap.History)
	if snap.PendingDice != nil {
		dice := *snap.PendingDice
		o.pendingDice = &dice
	}
	if snap.Epilogue != nil {
		ep := *snap.Epilogue
		o.epilogue = &ep
	}
	o.turns = snap.Turns
	o.updatedAt = snap.UpdatedAt
	return nil
}

func (o *Orchestrator) Phase() state.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

func (o *Orchestrator) Scores() alignment.Scores {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.scores
}

// Session returns a copy of the current session, or nil when idle.
func (o *Orchestrator) Session() *state.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.session == nil {
		return nil
	}
	sess := *o.session
	return &sess
}

func (o *Orchestrator) PendingDice() *turn.DiceRequest {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.pendingDice == nil {
		return nil
	}
	dice := *o.pendingDice
	return &dice
}

func (o *Orchestrator) Epilogue() *turn.Epilogue {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.epilogue == nil {
		return nil
	}
	ep := *o.epilogue
	return &ep
}

// History returns the model-visible conversation window.
func (o *Orchestrator) History() []chat.ChatMessage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.history.Messages()
}

func (o *Orchestrator) UpdatedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updatedAt
}

func (o *Orchestrator) Scenario() *scenario.Scenario {
	return o.scenario
}
