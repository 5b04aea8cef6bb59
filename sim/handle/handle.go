package handle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

// State is the lifecycle state of a simulation handle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateFaulted      State = "faulted"
)

// DefaultCallTimeout bounds a single engine call when no timeout is
// configured.
const DefaultCallTimeout = 30 * time.Second

// Handle owns one simulation engine: its lifecycle, its serialization, and
// its clock. All methods are safe for concurrent use; operations against the
// same handle execute in some serial order.
type Handle struct {
	id       string
	scenario *engine.ScenarioConfig

	mu          sync.Mutex
	eng         engine.Engine
	state       State
	simTime     float64
	callTimeout time.Duration
}

// New builds a handle in the disconnected state.
func New(id string, scenario *engine.ScenarioConfig, eng engine.Engine, callTimeout time.Duration) *Handle {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Handle{
		id:          id,
		scenario:    scenario,
		eng:         eng,
		state:       StateDisconnected,
		callTimeout: callTimeout,
	}
}

// ID returns the handle identifier.
func (h *Handle) ID() string { return h.id }

// Scenario returns the scenario configuration the handle was opened with.
func (h *Handle) Scenario() *engine.ScenarioConfig { return h.scenario }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Time returns the current simulation time in seconds.
func (h *Handle) Time() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.simTime
}

// Open connects the engine. On failure the handle is faulted and the caller
// is expected to Close it.
func (h *Handle) Open(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateDisconnected {
		return fmt.Errorf("%w: open in state %s", engine.ErrStaleHandle, h.state)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.state = StateConnecting
	err := h.call(func(callCtx context.Context) error {
		return h.eng.Open(callCtx)
	})
	if err != nil {
		h.state = StateFaulted
		log.Warn().Str("handle", h.id).Err(err).Msg("simulation open failed")
		return err
	}

	h.state = StateReady
	log.Debug().Str("handle", h.id).Str("scenario", h.scenario.Name).Msg("simulation ready")
	return nil
}

// Step advances the simulation by n steps and returns the new simulation
// time. Engine-side errors and timeouts fault the handle.
func (h *Handle) Step(ctx context.Context, n int) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureReady(ctx); err != nil {
		return 0, err
	}

	var newTime float64
	err := h.call(func(callCtx context.Context) error {
		var stepErr error
		newTime, stepErr = h.eng.Step(callCtx, n)
		return stepErr
	})
	if err != nil {
		h.state = StateFaulted
		log.Warn().Str("handle", h.id).Err(err).Msg("simulation step failed")
		return 0, err
	}

	if newTime < h.simTime {
		// The engine's clock must never run backwards. Treat it as a fault
		// rather than silently accepting an inconsistent timeline.
		h.state = StateFaulted
		return 0, fmt.Errorf("%w: time moved backwards (%g -> %g)", engine.ErrSimulationFault, h.simTime, newTime)
	}
	h.simTime = newTime
	return newTime, nil
}

// Query captures the state of the filtered entities at the current
// simulation time. Engine-side errors and timeouts fault the handle.
func (h *Handle) Query(ctx context.Context, filter engine.Filter) (*engine.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureReady(ctx); err != nil {
		return nil, err
	}

	var snap *engine.Snapshot
	err := h.call(func(callCtx context.Context) error {
		var queryErr error
		snap, queryErr = h.eng.Query(callCtx, filter)
		return queryErr
	})
	if err != nil {
		h.state = StateFaulted
		log.Warn().Str("handle", h.id).Err(err).Msg("simulation query failed")
		return nil, err
	}

	snap.Time = h.simTime
	return snap, nil
}

// Close releases the engine unconditionally and lands in disconnected, from
// any state. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateDisconnected && h.eng == nil {
		return nil
	}
	// The engine may block on a dead connection; teardown honors the same
	// per-call timeout as every other engine operation.
	err := h.call(func(context.Context) error {
		return h.eng.Close()
	})
	h.state = StateDisconnected
	log.Debug().Str("handle", h.id).Msg("simulation closed")
	return err
}

// ensureReady guards an operation: stale handles are rejected, and a caller
// cancellation before dispatch drops the request without side effects.
func (h *Handle) ensureReady(ctx context.Context) error {
	switch h.state {
	case StateReady:
	case StateFaulted:
		return fmt.Errorf("%w: handle is faulted, close and reopen", engine.ErrStaleHandle)
	default:
		return fmt.Errorf("%w: handle is %s", engine.ErrStaleHandle, h.state)
	}
	return ctx.Err()
}

// call runs one engine operation under the per-call timeout. The timeout is
// detached from the caller's context: once dispatched, the operation runs to
// completion or times out, and is never aborted by a caller cancellation.
func (h *Handle) call(f func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(context.Background(), h.callTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f(callCtx) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return fmt.Errorf("%w: no response within %s", engine.ErrTimeout, h.callTimeout)
	}
}
