// Package peer is a development responder for the shell client.
//
// Ownership boundary:
// - listener lifecycle and per-client connection tracking
// - setup authorization against an auth.Validator
// - demo routes: request-response, fire-and-forget, stream, channel
// - the client-status call issued to every accepted client
package peer
