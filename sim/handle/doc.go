// Package handle wraps one simulation engine behind the per-handle
// serialization and lifecycle boundary the rest of the bridge relies on.
//
// A Handle moves through the states disconnected → connecting → ready, loops
// on ready as steps execute, and falls to faulted on any engine-side error or
// timeout. Faulted never transitions back to ready; Close lands in
// disconnected from any state. While faulted, every operation except Close
// fails with engine.ErrStaleHandle.
//
// The underlying engine is not reentrant, so a dispatched call is never
// aborted: a caller cancellation before dispatch drops the request without
// side effects, but once the engine call is running it completes or times
// out on its own. After a timeout the engine's state is unknown and the
// handle is faulted.
package handle
