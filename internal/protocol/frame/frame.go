package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FixedHeaderLen uint16 = 32

	Magic   uint32 = 0x5353484C
	Version uint16 = 1

	FlagHasMetadata uint32 = 0x01
	FlagNext        uint32 = 0x02
	FlagComplete    uint32 = 0x04
)

// Type identifies what one frame means within an interaction.
type Type uint32

const (
	TypeSetup           Type = 1
	TypeRequestResponse Type = 2
	TypeFireAndForget   Type = 3
	TypeRequestStream   Type = 4
	TypeRequestChannel  Type = 5
	TypePayload         Type = 6
	TypeError           Type = 7
	TypeCancel          Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeSetup:
		return "setup"
	case TypeRequestResponse:
		return "request-response"
	case TypeFireAndForget:
		return "fire-and-forget"
	case TypeRequestStream:
		return "request-stream"
	case TypeRequestChannel:
		return "request-channel"
	case TypePayload:
		return "payload"
	case TypeError:
		return "error"
	case TypeCancel:
		return "cancel"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall  = errors.New("frame: header_len smaller than fixed header")
	ErrHeaderLenMismatch  = errors.New("frame: metadata flag set but header_len has no metadata bytes")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrMetadataTooLarge   = errors.New("frame: metadata too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	StreamID   uint64
	Type       Type
	Flags      uint32
	PayloadLen uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header   Header
	Metadata []byte
	Payload  []byte
}

func (f Frame) Has(flag uint32) bool {
	return f.Header.Flags&flag != 0
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxMetadataBytes uint64
	MaxPayloadBytes  uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxMetadataBytes: 16 * 1024,
		MaxPayloadBytes:  4 * 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		// A clean EOF before any header byte is a closed stream, not a malformed frame.
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}

	metaLen := uint64(h.HeaderLen - FixedHeaderLen)
	if h.Flags&FlagHasMetadata != 0 && metaLen == 0 {
		return Frame{}, ErrHeaderLenMismatch
	}
	if metaLen > limits.MaxMetadataBytes {
		return Frame{}, ErrMetadataTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	meta := make([]byte, metaLen)
	if metaLen > 0 {
		if _, err := io.ReadFull(r, meta); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Header: h, Metadata: meta, Payload: payload}, nil
}

// WriteFrame stamps magic, version and lengths, then writes f as a single buffer
// so concurrent writers on a multiplexed stream never interleave partial frames.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	metaLen := uint64(len(f.Metadata))
	payloadLen := uint64(len(f.Payload))
	if metaLen > limits.MaxMetadataBytes || metaLen > uint64(^uint16(0)-FixedHeaderLen) {
		return ErrMetadataTooLarge
	}
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen + uint16(metaLen)
	h.PayloadLen = payloadLen
	if metaLen > 0 {
		h.Flags |= FlagHasMetadata
	} else {
		h.Flags &^= FlagHasMetadata
	}

	buf := make([]byte, 0, uint64(FixedHeaderLen)+metaLen+payloadLen)
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Metadata...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.StreamID)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		StreamID:   binary.BigEndian.Uint64(b[8:16]),
		Type:       Type(binary.BigEndian.Uint32(b[16:20])),
		Flags:      binary.BigEndian.Uint32(b[20:24]),
		PayloadLen: binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
