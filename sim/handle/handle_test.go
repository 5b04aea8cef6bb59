package handle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

// fakeEngine is a scriptable engine for exercising the handle lifecycle.
type fakeEngine struct {
	openErr  error
	stepErr  error
	queryErr error
	stepTime   float64
	snapTime   float64
	delay      time.Duration
	closeDelay time.Duration

	steps   int
	queries int
	closed  bool
}

func (f *fakeEngine) Open(ctx context.Context) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.openErr
}

func (f *fakeEngine) Step(ctx context.Context, n int) (float64, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.steps += n
	if f.stepErr != nil {
		return 0, f.stepErr
	}
	return f.stepTime, nil
}

func (f *fakeEngine) Query(ctx context.Context, filter engine.Filter) (*engine.Snapshot, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &engine.Snapshot{Time: f.snapTime}, nil
}

func (f *fakeEngine) Close() error {
	if f.closeDelay > 0 {
		time.Sleep(f.closeDelay)
	}
	f.closed = true
	return nil
}

func scenarioStub() *engine.ScenarioConfig {
	return &engine.ScenarioConfig{Name: "stub", Engine: engine.ModeLocal, StepLength: 1}
}

func TestHandle_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("open transitions to ready", func(t *testing.T) {
		h := New("h1", scenarioStub(), &fakeEngine{}, 0)
		if h.State() != StateDisconnected {
			t.Errorf("Expected disconnected before open, got %s", h.State())
		}
		if err := h.Open(ctx); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if h.State() != StateReady {
			t.Errorf("Expected ready after open, got %s", h.State())
		}
	})

	t.Run("failed open faults the handle", func(t *testing.T) {
		fe := &fakeEngine{openErr: errors.New("refused")}
		h := New("h2", scenarioStub(), fe, 0)
		if err := h.Open(ctx); err == nil {
			t.Fatal("Expected open error")
		}
		if h.State() != StateFaulted {
			t.Errorf("Expected faulted after failed open, got %s", h.State())
		}
	})

	t.Run("double open rejected", func(t *testing.T) {
		h := New("h3", scenarioStub(), &fakeEngine{}, 0)
		h.Open(ctx)
		err := h.Open(ctx)
		if !errors.Is(err, engine.ErrStaleHandle) {
			t.Errorf("Expected ErrStaleHandle, got %v", err)
		}
	})

	t.Run("close from any state", func(t *testing.T) {
		fe := &fakeEngine{stepErr: errors.New("boom")}
		h := New("h4", scenarioStub(), fe, 0)
		h.Open(ctx)
		h.Step(ctx, 1) // faults
		if h.State() != StateFaulted {
			t.Fatalf("Expected faulted, got %s", h.State())
		}
		if err := h.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if h.State() != StateDisconnected {
			t.Errorf("Expected disconnected after close, got %s", h.State())
		}
		if !fe.closed {
			t.Error("Expected engine released")
		}
		// idempotent
		if err := h.Close(); err != nil {
			t.Errorf("Second close failed: %v", err)
		}
	})

	t.Run("hung engine close times out but still disconnects", func(t *testing.T) {
		fe := &fakeEngine{closeDelay: 300 * time.Millisecond}
		h := New("h5", scenarioStub(), fe, 30*time.Millisecond)
		h.Open(ctx)

		err := h.Close()
		if !errors.Is(err, engine.ErrTimeout) {
			t.Errorf("Expected ErrTimeout, got %v", err)
		}
		if h.State() != StateDisconnected {
			t.Errorf("Expected disconnected after close, got %s", h.State())
		}
	})
}

func TestHandle_Step(t *testing.T) {
	ctx := context.Background()

	t.Run("advances and records time", func(t *testing.T) {
		fe := &fakeEngine{stepTime: 5}
		h := New("h1", scenarioStub(), fe, 0)
		h.Open(ctx)

		now, err := h.Step(ctx, 5)
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if now != 5 || h.Time() != 5 {
			t.Errorf("Expected time 5, got %g / %g", now, h.Time())
		}
		if fe.steps != 5 {
			t.Errorf("Expected 5 engine steps, got %d", fe.steps)
		}
	})

	t.Run("engine error faults the handle", func(t *testing.T) {
		fe := &fakeEngine{stepErr: errors.New("crashed")}
		h := New("h2", scenarioStub(), fe, 0)
		h.Open(ctx)

		if _, err := h.Step(ctx, 1); err == nil {
			t.Fatal("Expected step error")
		}
		if h.State() != StateFaulted {
			t.Errorf("Expected faulted, got %s", h.State())
		}
	})

	t.Run("faulted handle rejects further operations", func(t *testing.T) {
		fe := &fakeEngine{stepErr: errors.New("crashed")}
		h := New("h3", scenarioStub(), fe, 0)
		h.Open(ctx)
		h.Step(ctx, 1)

		_, err := h.Step(ctx, 1)
		if !errors.Is(err, engine.ErrStaleHandle) {
			t.Errorf("Expected ErrStaleHandle for step, got %v", err)
		}
		_, err = h.Query(ctx, engine.FilterAll)
		if !errors.Is(err, engine.ErrStaleHandle) {
			t.Errorf("Expected ErrStaleHandle for query, got %v", err)
		}
		if fe.steps != 1 || fe.queries != 0 {
			t.Errorf("Expected no engine calls after fault, got steps=%d queries=%d", fe.steps, fe.queries)
		}
	})

	t.Run("backwards clock faults the handle", func(t *testing.T) {
		fe := &fakeEngine{stepTime: 10}
		h := New("h4", scenarioStub(), fe, 0)
		h.Open(ctx)
		h.Step(ctx, 1)

		fe.stepTime = 4
		_, err := h.Step(ctx, 1)
		if !errors.Is(err, engine.ErrSimulationFault) {
			t.Errorf("Expected ErrSimulationFault, got %v", err)
		}
		if h.State() != StateFaulted {
			t.Errorf("Expected faulted, got %s", h.State())
		}
	})

	t.Run("timeout faults the handle", func(t *testing.T) {
		fe := &fakeEngine{}
		h := New("h5", scenarioStub(), fe, 30*time.Millisecond)
		h.Open(ctx)
		fe.delay = 300 * time.Millisecond

		_, err := h.Step(ctx, 1)
		if !errors.Is(err, engine.ErrTimeout) {
			t.Errorf("Expected ErrTimeout, got %v", err)
		}
		if h.State() != StateFaulted {
			t.Errorf("Expected faulted after timeout, got %s", h.State())
		}
	})

	t.Run("caller cancellation before dispatch is side effect free", func(t *testing.T) {
		fe := &fakeEngine{stepTime: 1}
		h := New("h6", scenarioStub(), fe, 0)
		h.Open(ctx)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := h.Step(cancelled, 1)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if fe.steps != 0 {
			t.Errorf("Expected no engine call, got %d steps", fe.steps)
		}
		if h.State() != StateReady {
			t.Errorf("Expected handle still ready, got %s", h.State())
		}
	})
}

func TestHandle_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot carries the handle clock", func(t *testing.T) {
		fe := &fakeEngine{stepTime: 7, snapTime: 6.999}
		h := New("h1", scenarioStub(), fe, 0)
		h.Open(ctx)
		h.Step(ctx, 7)

		snap, err := h.Query(ctx, engine.FilterAll)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if snap.Time != 7 {
			t.Errorf("Expected snapshot time 7, got %g", snap.Time)
		}
	})

	t.Run("engine error faults the handle", func(t *testing.T) {
		fe := &fakeEngine{queryErr: errors.New("gone")}
		h := New("h2", scenarioStub(), fe, 0)
		h.Open(ctx)

		if _, err := h.Query(ctx, engine.FilterAll); err == nil {
			t.Fatal("Expected query error")
		}
		if h.State() != StateFaulted {
			t.Errorf("Expected faulted, got %s", h.State())
		}
	})

	t.Run("query before open rejected", func(t *testing.T) {
		h := New("h3", scenarioStub(), &fakeEngine{}, 0)
		_, err := h.Query(ctx, engine.FilterAll)
		if !errors.Is(err, engine.ErrStaleHandle) {
			t.Errorf("Expected ErrStaleHandle, got %v", err)
		}
	})
}

func TestHandle_Serialization(t *testing.T) {
	// Concurrent steps against one handle must execute in some serial order;
	// the engine itself is never entered concurrently.
	fe := &fakeEngine{stepTime: 1, delay: time.Millisecond}
	h := New("h1", scenarioStub(), fe, 0)
	h.Open(context.Background())

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			h.Step(context.Background(), 1)
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if fe.steps != 8 {
		t.Errorf("Expected 8 serialized steps, got %d", fe.steps)
	}
}
