// Package api provides the HTTP REST surface of the bridge.
//
// All simulation operations go through here: the MCP transport is a thin
// client of this API, so both protocols observe identical semantics. Routes
// live under /api; every error response carries a stable machine-readable
// code alongside a human-readable message, and internal state is never
// leaked across the boundary.
package api
