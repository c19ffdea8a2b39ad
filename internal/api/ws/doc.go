// Package ws pushes session events to clients over WebSocket.
//
// A client connects to /sessions/:id/events and receives a "connected"
// message followed by every event of the session: session_start,
// session_finished, error, token_completed and content_removed. The
// connection closes after
// the session ends. Clients may send {"type":"ping"} and get a pong back.
package ws
