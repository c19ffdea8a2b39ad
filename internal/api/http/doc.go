// Package http provides the REST API of the feed service.
//
// Endpoints:
//   - Health: / and /health
//   - Metrics: /metrics
//   - Sessions: /sessions, /sessions/:id
//   - Tree: /sessions/:id/children?parent=<content id>
//   - Pagination: /sessions/:id/tokens/:contentId
//   - Refresh: /sessions/:id/refresh
//
// Token handling is asynchronous from the client's point of view: the request
// is accepted and the revealed children arrive as a token_completed event on
// the session's WebSocket, or can be read again through /children.
package http
