// Package protocol groups the wire contract of the streaming transport.
//
// Ownership boundary:
// - frame: fixed header, flags and size limits
// - tlv: typed field encoding inside frame payloads
// - schema: required fields per frame type
// - session: setup/request/payload/error codecs and transport policy
package protocol
