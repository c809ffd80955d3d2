// Package client owns the shell client's connection session and the four
// interaction models issued over it.
//
// Ownership boundary:
// - login/shutdown lifecycle and the tracked subscription slot
// - request-response, fire-and-forget, stream and channel drivers
// - the client-status responder serving peer-initiated calls
package client
