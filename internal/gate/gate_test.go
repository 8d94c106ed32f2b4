package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allRequired = model.NewTaskSet(model.AllTaskTypes...)

type countingTrigger struct {
	err   error
	calls atomic.Int32
}

func (c *countingTrigger) run(context.Context, string) error {
	c.calls.Add(1)
	return c.err
}

type memoryStore struct {
	states map[string]model.SessionCompletionState
	mu     sync.Mutex
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string]model.SessionCompletionState)}
}

func (m *memoryStore) SaveSessionState(_ context.Context, st model.SessionCompletionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.SessionID] = st
	return nil
}

func (m *memoryStore) ListSessionStates(context.Context) ([]model.SessionCompletionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SessionCompletionState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	return out, nil
}

func TestGate_DuplicateArrivalTriggersOnce(t *testing.T) {
	ctx := context.Background()
	trig := &countingTrigger{}
	g := New(allRequired, trig.run)

	steps := []struct {
		task      model.TaskType
		wantTo    model.CompletionState
		duplicate bool
		triggered bool
	}{
		{task: model.TaskClassification, wantTo: model.CompletionPartial},
		{task: model.TaskQA, wantTo: model.CompletionPartial},
		{task: model.TaskClassification, wantTo: model.CompletionPartial, duplicate: true},
		{task: model.TaskSummary, wantTo: model.CompletionProcessed, triggered: true},
	}
	for _, step := range steps {
		tr, err := g.Receive(ctx, "200", step.task)
		require.NoError(t, err)
		assert.Equal(t, step.wantTo, tr.To, "after %s", step.task)
		assert.Equal(t, step.duplicate, tr.Duplicate, "after %s", step.task)
		assert.Equal(t, step.triggered, tr.Triggered, "after %s", step.task)
	}
	assert.Equal(t, int32(1), trig.calls.Load())

	// Re-arrivals after processing do not run again by default.
	tr, err := g.Receive(ctx, "200", model.TaskQA)
	require.NoError(t, err)
	assert.False(t, tr.Triggered)
	assert.Equal(t, int32(1), trig.calls.Load())

	st, ok := g.State("200")
	require.True(t, ok)
	assert.Equal(t, model.CompletionProcessed, st.State)
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, model.AllTaskTypes, st.Received.Sorted())
}

func TestGate_ReprocessOnUpdate(t *testing.T) {
	ctx := context.Background()
	trig := &countingTrigger{}
	g := New(allRequired, trig.run, WithPolicy(config.PolicyReprocessOnUpdate))

	for _, task := range model.AllTaskTypes {
		_, err := g.Receive(ctx, "7", task)
		require.NoError(t, err)
	}
	tr, err := g.Receive(ctx, "7", model.TaskSummary)
	require.NoError(t, err)
	assert.True(t, tr.Triggered)
	assert.Equal(t, int32(2), trig.calls.Load())
}

func TestGate_FailureStaysCompleteWithoutRetry(t *testing.T) {
	ctx := context.Background()
	trig := &countingTrigger{err: errors.New("classifier down")}
	g := New(allRequired, trig.run)

	var last Transition
	for _, task := range model.AllTaskTypes {
		var err error
		last, err = g.Receive(ctx, "9", task)
		require.NoError(t, err)
	}
	assert.True(t, last.Triggered)
	assert.EqualError(t, last.Err, "classifier down")
	assert.Equal(t, model.CompletionComplete, last.To)

	tr, err := g.Receive(ctx, "9", model.TaskQA)
	require.NoError(t, err)
	assert.False(t, tr.Triggered)
	assert.Equal(t, int32(1), trig.calls.Load())

	st, _ := g.State("9")
	assert.Equal(t, "classifier down", st.LastError)

	trig.err = nil
	tr, err = g.Rerun(ctx, "9")
	require.NoError(t, err)
	assert.NoError(t, tr.Err)
	assert.Equal(t, model.CompletionProcessed, tr.To)

	st, _ = g.State("9")
	assert.Empty(t, st.LastError)
	assert.Equal(t, 2, st.Runs)
}

func TestGate_ResetArmsNextArrival(t *testing.T) {
	ctx := context.Background()
	trig := &countingTrigger{}
	g := New(allRequired, trig.run)

	for _, task := range model.AllTaskTypes {
		_, err := g.Receive(ctx, "11", task)
		require.NoError(t, err)
	}
	require.NoError(t, g.Reset(ctx, "11"))

	st, _ := g.State("11")
	assert.Equal(t, model.CompletionComplete, st.State)
	assert.True(t, st.Armed)

	tr, err := g.Receive(ctx, "11", model.TaskClassification)
	require.NoError(t, err)
	assert.True(t, tr.Triggered)
	assert.Equal(t, int32(2), trig.calls.Load())

	st, _ = g.State("11")
	assert.False(t, st.Armed)
	assert.Equal(t, model.CompletionProcessed, st.State)
}

func TestGate_InvalidOperations(t *testing.T) {
	ctx := context.Background()
	g := New(allRequired, (&countingTrigger{}).run)

	_, err := g.Receive(ctx, "", model.TaskQA)
	assert.ErrorIs(t, err, common.ErrUndeliverable)
	_, err = g.Receive(ctx, model.UnknownSessionID, model.TaskQA)
	assert.ErrorIs(t, err, common.ErrUndeliverable)
	_, err = g.Receive(ctx, "1", model.TaskType("poetry"))
	assert.ErrorIs(t, err, common.ErrUnknownTaskType)

	_, err = g.Rerun(ctx, "absent")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, g.Reset(ctx, "absent"), common.ErrNotFound)

	_, err = g.Receive(ctx, "1", model.TaskQA)
	require.NoError(t, err)
	_, err = g.Rerun(ctx, "1")
	assert.ErrorIs(t, err, common.ErrIncompleteSession)
	assert.ErrorIs(t, g.Reset(ctx, "1"), common.ErrIncompleteSession)
}

func TestGate_ConcurrentArrivalsTriggerOnce(t *testing.T) {
	ctx := context.Background()
	trig := &countingTrigger{}
	g := New(allRequired, trig.run)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, task := range model.AllTaskTypes {
			wg.Add(1)
			go func(task model.TaskType) {
				defer wg.Done()
				_, _ = g.Receive(ctx, "300", task)
			}(task)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), trig.calls.Load())
}

func TestGate_CustomRequiredSet(t *testing.T) {
	trig := &countingTrigger{}
	g := New(model.NewTaskSet(model.TaskClassification), trig.run)

	tr, err := g.Receive(context.Background(), "5", model.TaskClassification)
	require.NoError(t, err)
	assert.True(t, tr.Triggered)
	assert.Equal(t, model.CompletionEmpty, tr.From)
}

func TestGate_RestoreFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	trig := &countingTrigger{}

	first := New(allRequired, trig.run, WithStore(store))
	for _, task := range model.AllTaskTypes {
		_, err := first.Receive(ctx, "42", task)
		require.NoError(t, err)
	}
	_, err := first.Receive(ctx, "43", model.TaskQA)
	require.NoError(t, err)

	second := New(allRequired, trig.run, WithStore(store))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tr, err := second.Receive(ctx, "42", model.TaskQA)
	require.NoError(t, err)
	assert.False(t, tr.Triggered)
	assert.True(t, tr.Duplicate)

	states := second.States()
	require.Len(t, states, 2)
	assert.Equal(t, "42", states[0].SessionID)
	assert.Equal(t, model.CompletionProcessed, states[0].State)
	assert.Equal(t, model.CompletionPartial, states[1].State)
	assert.Equal(t, int32(1), trig.calls.Load())
}

func TestGate_RestoreWithoutStore(t *testing.T) {
	n, err := New(allRequired, (&countingTrigger{}).run).Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
