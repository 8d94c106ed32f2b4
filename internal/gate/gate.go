// Package gate decides when a session has received every required task type
// and runs the downstream pipeline for it exactly once.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/model"
)

// Trigger runs the downstream pipeline for a complete session.
type Trigger func(ctx context.Context, sessionID string) error

// StateStore persists completion states across restarts.
type StateStore interface {
	SaveSessionState(ctx context.Context, state model.SessionCompletionState) error
	ListSessionStates(ctx context.Context) ([]model.SessionCompletionState, error)
}

// Transition describes what one gate operation did to a session.
type Transition struct {
	Err       error
	SessionID string
	From      model.CompletionState
	To        model.CompletionState
	Received  []model.TaskType
	Duplicate bool
	Triggered bool
}

// Gate tracks completion per session. Operations on the same session are
// serialized; different sessions proceed in parallel.
type Gate struct {
	trigger  Trigger
	store    StateStore
	required model.TaskSet
	sessions map[string]*session
	policy   string
	mu       sync.Mutex
}

type session struct {
	state model.SessionCompletionState
	mu    sync.Mutex
}

// Option configures a Gate.
type Option func(*Gate)

// WithStore persists every state change to store.
func WithStore(store StateStore) Option {
	return func(g *Gate) { g.store = store }
}

// WithPolicy selects the behaviour for arrivals after a session has run.
func WithPolicy(policy string) Option {
	return func(g *Gate) { g.policy = policy }
}

// New creates a gate that calls trigger once required has arrived.
func New(required model.TaskSet, trigger Trigger, opts ...Option) *Gate {
	g := &Gate{
		trigger:  trigger,
		required: required,
		sessions: make(map[string]*session),
		policy:   config.PolicyFirstCompletion,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewFromConfig creates a gate using the configured required set and policy.
func NewFromConfig(cfg *config.Config, trigger Trigger, opts ...Option) *Gate {
	return New(cfg.RequiredTasks(), trigger, append([]Option{WithPolicy(cfg.Gate.Policy)}, opts...)...)
}

func (g *Gate) session(id string) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		s = &session{state: model.SessionCompletionState{
			SessionID: id,
			State:     model.CompletionEmpty,
			Received:  model.NewTaskSet(),
		}}
		g.sessions[id] = s
	}
	return s
}

func (g *Gate) lookup(id string) (*session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	return s, ok
}

// Receive records the arrival of taskType for sessionID. The returned error
// is non-nil only for invalid input; a failed downstream run is reported in
// Transition.Err and leaves the session Complete.
func (g *Gate) Receive(ctx context.Context, sessionID string, taskType model.TaskType) (Transition, error) {
	if sessionID == "" || sessionID == model.UnknownSessionID {
		return Transition{}, fmt.Errorf("%w: session id %q", common.ErrUndeliverable, sessionID)
	}
	if !taskType.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", common.ErrUnknownTaskType, taskType)
	}

	s := g.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := Transition{SessionID: sessionID, From: s.state.State}
	tr.Duplicate = s.state.Received.Has(taskType)
	if !tr.Duplicate {
		s.state.Received[taskType] = struct{}{}
	}

	run := false
	switch s.state.State {
	case model.CompletionEmpty, model.CompletionPartial:
		if s.state.Received.Contains(g.required) {
			s.state.State = model.CompletionComplete
			run = true
		} else {
			s.state.State = model.CompletionPartial
		}
	case model.CompletionComplete, model.CompletionProcessed:
		run = s.state.Armed || g.policy == config.PolicyReprocessOnUpdate
	}

	if run {
		tr.Triggered = true
		tr.Err = g.run(ctx, s)
	} else {
		s.state.UpdatedAt = time.Now().UTC()
		g.persist(ctx, s)
	}

	tr.To = s.state.State
	tr.Received = s.state.Received.Sorted()

	slog.Debug("submission received",
		"session_id", sessionID,
		"task_type", taskType,
		"from", tr.From,
		"to", tr.To,
		"duplicate", tr.Duplicate,
		"triggered", tr.Triggered)
	return tr, nil
}

// Rerun runs the downstream pipeline again for a Complete or Processed session.
func (g *Gate) Rerun(ctx context.Context, sessionID string) (Transition, error) {
	s, ok := g.lookup(sessionID)
	if !ok {
		return Transition{}, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ready(s.state.State) {
		return Transition{}, fmt.Errorf("session %s is %s: %w", sessionID, s.state.State, common.ErrIncompleteSession)
	}
	tr := Transition{SessionID: sessionID, From: s.state.State, Triggered: true}
	tr.Err = g.run(ctx, s)
	tr.To = s.state.State
	tr.Received = s.state.Received.Sorted()
	return tr, nil
}

// Reset arms a Complete or Processed session so that its next arrival, or an
// explicit Rerun, runs the pipeline again.
func (g *Gate) Reset(ctx context.Context, sessionID string) error {
	s, ok := g.lookup(sessionID)
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ready(s.state.State) {
		return fmt.Errorf("session %s is %s: %w", sessionID, s.state.State, common.ErrIncompleteSession)
	}
	s.state.State = model.CompletionComplete
	s.state.Armed = true
	s.state.UpdatedAt = time.Now().UTC()
	g.persist(ctx, s)

	slog.Info("session reset", "session_id", sessionID)
	return nil
}

// State returns a snapshot of one session's completion state.
func (g *Gate) State(sessionID string) (model.SessionCompletionState, bool) {
	s, ok := g.lookup(sessionID)
	if !ok {
		return model.SessionCompletionState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.state), true
}

// States returns snapshots of every known session ordered by session id.
func (g *Gate) States() []model.SessionCompletionState {
	g.mu.Lock()
	all := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		all = append(all, s)
	}
	g.mu.Unlock()

	out := make([]model.SessionCompletionState, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, snapshot(s.state))
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Restore loads persisted states. Sessions left Complete by a failed or
// interrupted run are not retried until they are Reset or rerun.
func (g *Gate) Restore(ctx context.Context) (int, error) {
	if g.store == nil {
		return 0, nil
	}
	states, err := g.store.ListSessionStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to restore gate state: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, st := range states {
		if st.Received == nil {
			st.Received = model.NewTaskSet()
		}
		g.sessions[st.SessionID] = &session{state: st}
	}
	slog.Info("restored gate state", "sessions", len(states))
	return len(states), nil
}

// run invokes the trigger with the session lock held.
func (g *Gate) run(ctx context.Context, s *session) error {
	id := s.state.SessionID
	err := g.trigger(ctx, id)

	s.state.Runs++
	s.state.Armed = false
	s.state.UpdatedAt = time.Now().UTC()
	if err != nil {
		s.state.State = model.CompletionComplete
		s.state.LastError = err.Error()
		slog.Error("session pipeline failed",
			"session_id", id,
			"runs", s.state.Runs,
			"error", err)
	} else {
		s.state.State = model.CompletionProcessed
		s.state.LastError = ""
		slog.Info("session processed", "session_id", id, "runs", s.state.Runs)
	}
	g.persist(ctx, s)
	return err
}

func (g *Gate) persist(ctx context.Context, s *session) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveSessionState(ctx, snapshot(s.state)); err != nil {
		slog.Warn("failed to persist session state",
			"session_id", s.state.SessionID,
			"error", err)
	}
}

func ready(state model.CompletionState) bool {
	return state == model.CompletionComplete || state == model.CompletionProcessed
}

func snapshot(st model.SessionCompletionState) model.SessionCompletionState {
	received := make(model.TaskSet, len(st.Received))
	for t := range st.Received {
		received[t] = struct{}{}
	}
	st.Received = received
	return st
}
