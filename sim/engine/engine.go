package engine

import (
	"context"
	"errors"
)

var (
	// ErrConnection indicates the simulation process could not be reached or
	// started. Returned from Open.
	ErrConnection = errors.New("simulation connection failed")

	// ErrSimulationFault indicates the engine reported an internal error or
	// has already terminated. The owning handle moves to the faulted state.
	ErrSimulationFault = errors.New("simulation fault")

	// ErrStaleHandle is returned for any operation other than Close against a
	// faulted or closed handle.
	ErrStaleHandle = errors.New("stale simulation handle")

	// ErrTimeout indicates an engine call exceeded the per-call timeout. The
	// engine's state is unknown afterwards, so the handle is faulted.
	ErrTimeout = errors.New("simulation call timed out")
)

// Engine is one live connection to (or in-process instance of) a traffic
// simulation. Implementations are not safe for concurrent use; the handle
// layer serializes all calls.
type Engine interface {
	// Open establishes the connection or process. It returns ErrConnection
	// (wrapped) when the underlying simulation cannot be reached.
	Open(ctx context.Context) error

	// Step advances the simulation by n steps and returns the new simulation
	// time in seconds. Time is monotonically non-decreasing.
	Step(ctx context.Context, n int) (float64, error)

	// Query captures the state of the entities selected by filter at the
	// current simulation time.
	Query(ctx context.Context, filter Filter) (*Snapshot, error)

	// Close releases the connection or process unconditionally. It is safe to
	// call on any state and safe to call more than once.
	Close() error
}
