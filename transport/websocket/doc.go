// Package websocket streams simulation updates to observers.
//
// Clients connect to /ws?session=<session_id> and receive a JSON message
// with the fresh entity snapshot every time that session's simulation
// advances, plus lifecycle events (session closed, simulation faulted). The
// hub fans out per session; a slow client is dropped rather than allowed to
// block the broadcast.
package websocket
