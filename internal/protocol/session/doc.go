// Package session owns the per-connection wire vocabulary shared by the
// shell client and the dev peer.
//
// Ownership boundary:
// - setup/request/payload/error/cancel frame helpers
// - transport reliability defaults
// - TLS/mTLS validation and tls.Config builders
package session
