// Package engine defines the simulation engine abstraction the bridge drives.
//
// The engine package contains:
//   - The Engine interface (Open, Step, Query, Close) implemented by the
//     TraCI client and the built-in local engine
//   - Entity state types (vehicles, traffic lights, induction-loop detectors)
//     and the immutable Snapshot captured at a point in simulation time
//   - Entity filters used to scope queries and to key the snapshot cache
//   - Scenario configuration types and validation
//
// An Engine is assumed non-reentrant: callers must serialize Step/Query/Open/
// Close against a single instance. The sim/handle package provides that
// serialization; nothing else in the repository calls an Engine directly.
package engine
