// Package session tracks the bridge's open simulation sessions.
//
// Each session owns exactly one simulation handle, created from a scenario
// configuration through an injected engine factory. The manager enforces a
// maximum number of concurrently open sessions, expires idle sessions, and
// remembers recently expired identifiers so a late request can be answered
// with "expired" rather than "not found".
package session
