// Package transport carries the four interaction models over one multiplexed
// connection.
//
// Ownership boundary:
// - Channel/Stream contracts consumed by the client session
// - yamux-backed Conn: dial, accept, setup handshake
// - per-stream framing, cancellation and inbound route dispatch
//
// Each interaction owns one yamux stream. The opener writes a request frame
// whose type selects the model; the responder answers with payload frames
// (next/complete) or a single error frame. Either side may write a cancel
// frame and reset the stream.
package transport
