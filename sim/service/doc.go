// Package service contains the bridge's command dispatcher: the BridgeService
// interface the transports call, its implementation, and the result types
// serialized across the API and MCP boundaries.
//
// The dispatcher validates every argument before touching a simulation
// handle, so malformed requests never reach the engine. Each operation is
// atomic with respect to the handle it touches; the handle layer serializes
// engine calls, and independent sessions proceed in parallel.
package service
