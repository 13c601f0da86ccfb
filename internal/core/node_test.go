package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/swival/swival/internal/core"
)

// flakyDispatch simulates a node whose Exec fails transiently: the first
// failUntil calls error, later ones succeed. Post routes by whether any
// item ended up on the fallback path.
type dispatchState struct{}

type flakyDispatch struct {
	failUntil int
	calls     int
}

func (r *flakyDispatch) Prep(_ *dispatchState) []string { return []string{"call-1"} }
func (r *flakyDispatch) Post(_ *dispatchState, _ []string, results ...string) core.Action {
	for _, res := range results {
		if res == "fallback" {
			return core.ActionFailure
		}
	}
	return core.ActionSuccess
}
func (r *flakyDispatch) ExecFallback(_ error) string { return "fallback" }
func (r *flakyDispatch) Exec(_ context.Context, _ string) (string, error) {
	r.calls++
	if r.calls <= r.failUntil {
		return "", errors.New("transient error")
	}
	return "ok", nil
}

func TestNode_Run_SucceedsFirstAttempt(t *testing.T) {
	impl := &flakyDispatch{failUntil: 0}
	node := core.NewNode[dispatchState, string, string](impl, 2)
	node.Run(context.Background(), &dispatchState{})

	if impl.calls != 1 {
		t.Errorf("expected 1 Exec call, got %d", impl.calls)
	}
}

func TestNode_Run_RetriesOnError(t *testing.T) {
	impl := &flakyDispatch{failUntil: 2} // fail twice, succeed on the 3rd
	node := core.NewNode[dispatchState, string, string](impl, 3)
	action := node.Run(context.Background(), &dispatchState{})

	if impl.calls != 3 {
		t.Errorf("expected 3 Exec calls, got %d", impl.calls)
	}
	if action != core.ActionSuccess {
		t.Errorf("expected ActionSuccess after retries, got %q", action)
	}
}

func TestNode_Run_FallbackAfterAllRetriesExhausted(t *testing.T) {
	impl := &flakyDispatch{failUntil: 99} // never succeeds
	node := core.NewNode[dispatchState, string, string](impl, 2)
	action := node.Run(context.Background(), &dispatchState{})

	if impl.calls != 3 {
		t.Errorf("expected 3 Exec calls (1 + 2 retries), got %d", impl.calls)
	}
	if action != core.ActionFailure {
		t.Errorf("expected ActionFailure from the fallback path, got %q", action)
	}
}

func TestNode_Run_ContextCancelledSkipsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	impl := &flakyDispatch{failUntil: 99}
	node := core.NewNode[dispatchState, string, string](impl, 5)
	action := node.Run(ctx, &dispatchState{})

	if impl.calls != 0 {
		t.Errorf("a dead context must not spend Exec attempts, got %d calls", impl.calls)
	}
	if action != core.ActionFailure {
		t.Errorf("expected the fallback route, got %q", action)
	}
}

// cancellingDispatch prepares several work items and cancels the shared
// context from inside the first item's Exec, the way a user interrupt lands
// while a turn's first tool call is still running.
type cancellingDispatch struct {
	cancel   context.CancelFunc
	executed []string
	results  []string
}

func (c *cancellingDispatch) Prep(_ *dispatchState) []string {
	return []string{"call-1", "call-2", "call-3"}
}

func (c *cancellingDispatch) Exec(_ context.Context, item string) (string, error) {
	c.executed = append(c.executed, item)
	c.cancel()
	return "ran:" + item, nil
}

func (c *cancellingDispatch) ExecFallback(_ error) string { return "fallback" }

func (c *cancellingDispatch) Post(_ *dispatchState, _ []string, results ...string) core.Action {
	c.results = results
	return core.ActionEnd
}

func TestNode_Run_CancellationStopsRemainingItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	impl := &cancellingDispatch{cancel: cancel}
	node := core.NewNode[dispatchState, string, string](impl, 1)
	node.Run(ctx, &dispatchState{})

	if len(impl.executed) != 1 || impl.executed[0] != "call-1" {
		t.Fatalf("only the in-flight item may run after cancellation, executed %v", impl.executed)
	}
	want := []string{"ran:call-1", "fallback", "fallback"}
	if len(impl.results) != len(want) {
		t.Fatalf("Post must see one result per item, got %v", impl.results)
	}
	for i, w := range want {
		if impl.results[i] != w {
			t.Errorf("result[%d] = %q, want %q", i, impl.results[i], w)
		}
	}
}

func TestNode_AddSuccessor_Chaining(t *testing.T) {
	a := core.NewNode[dispatchState, string, string](&flakyDispatch{}, 0)
	b := core.NewNode[dispatchState, string, string](&flakyDispatch{}, 0)

	if returned := a.AddSuccessor(b, core.ActionSuccess); returned != b {
		t.Error("AddSuccessor must return the added successor for chaining")
	}
}

func TestNode_GetSuccessor_UnknownAction(t *testing.T) {
	a := core.NewNode[dispatchState, string, string](&flakyDispatch{}, 0)
	if got := a.GetSuccessor(core.ActionDispatchTools); got != nil {
		t.Errorf("expected nil for an unregistered action, got %v", got)
	}
}

func TestNewNode_NegativeRetriesClampedToZero(t *testing.T) {
	impl := &flakyDispatch{failUntil: 99}
	node := core.NewNode[dispatchState, string, string](impl, -5)
	node.Run(context.Background(), &dispatchState{})

	if impl.calls != 1 {
		t.Errorf("negative maxRetries must clamp to 0 (a single attempt), got %d calls", impl.calls)
	}
}
