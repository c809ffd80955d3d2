package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/streamshell/internal/protocol/frame"
	"github.com/danmuck/streamshell/internal/protocol/schema"
	"github.com/danmuck/streamshell/internal/protocol/tlv"
)

var (
	ErrInvalidSetup   = errors.New("session: invalid setup")
	ErrInvalidRequest = errors.New("session: invalid request")
	ErrUnexpectedType = errors.New("session: unexpected frame type")
)

// ErrorCode classifies an error frame.
type ErrorCode uint32

const (
	CodeRejectedSetup ErrorCode = 0x0003
	CodeInvalid       ErrorCode = 0x0204
	CodeApplication   ErrorCode = 0x0201
	CodeRejected      ErrorCode = 0x0202
	CodeCanceled      ErrorCode = 0x0203
)

func (c ErrorCode) String() string {
	switch c {
	case CodeRejectedSetup:
		return "rejected_setup"
	case CodeInvalid:
		return "invalid"
	case CodeApplication:
		return "application_error"
	case CodeRejected:
		return "rejected"
	case CodeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("code(0x%04x)", uint32(c))
	}
}

// Setup is sent once on the first stream of a connection.
type Setup struct {
	Route        string
	DataMime     string
	MetadataMime string
	Data         []byte
	Metadata     []byte
}

func (s Setup) Validate() error {
	if strings.TrimSpace(s.Route) == "" {
		return fmt.Errorf("%w: missing route", ErrInvalidSetup)
	}
	if strings.TrimSpace(s.DataMime) == "" {
		return fmt.Errorf("%w: missing data mime", ErrInvalidSetup)
	}
	if len(s.Metadata) > 0 && strings.TrimSpace(s.MetadataMime) == "" {
		return fmt.Errorf("%w: metadata without mime", ErrInvalidSetup)
	}
	return nil
}

func EncodeSetupFrame(s Setup) (frame.Frame, error) {
	if err := s.Validate(); err != nil {
		return frame.Frame{}, err
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldRoute, s.Route),
		tlv.String(schema.FieldDataMime, s.DataMime),
		tlv.String(schema.FieldMetadataMime, s.MetadataMime),
		tlv.Bytes(schema.FieldData, s.Data),
	}
	return frame.Frame{
		Header:   frame.Header{Type: frame.TypeSetup},
		Metadata: s.Metadata,
		Payload:  tlv.EncodeFields(fields),
	}, nil
}

func DecodeSetupFrame(f frame.Frame) (Setup, error) {
	if f.Header.Type != frame.TypeSetup {
		return Setup{}, fmt.Errorf("%w: want setup got %s", ErrUnexpectedType, f.Header.Type)
	}
	fields, err := decodeValidated(f)
	if err != nil {
		return Setup{}, err
	}
	s := Setup{
		Route:        tlv.GetString(fields, schema.FieldRoute),
		DataMime:     tlv.GetString(fields, schema.FieldDataMime),
		MetadataMime: tlv.GetString(fields, schema.FieldMetadataMime),
		Data:         tlv.GetBytes(fields, schema.FieldData),
		Metadata:     f.Metadata,
	}
	if err := s.Validate(); err != nil {
		return Setup{}, err
	}
	return s, nil
}

// Request opens one interaction on a fresh stream.
type Request struct {
	Route string
	Data  []byte
}

func IsRequestType(t frame.Type) bool {
	switch t {
	case frame.TypeRequestResponse, frame.TypeFireAndForget, frame.TypeRequestStream, frame.TypeRequestChannel:
		return true
	}
	return false
}

func EncodeRequestFrame(t frame.Type, streamID uint64, req Request) (frame.Frame, error) {
	if !IsRequestType(t) {
		return frame.Frame{}, fmt.Errorf("%w: %s is not a request", ErrUnexpectedType, t)
	}
	if strings.TrimSpace(req.Route) == "" {
		return frame.Frame{}, fmt.Errorf("%w: missing route", ErrInvalidRequest)
	}
	fields := []tlv.Field{tlv.String(schema.FieldRoute, req.Route)}
	if req.Data != nil {
		fields = append(fields, tlv.Bytes(schema.FieldData, req.Data))
	}
	return frame.Frame{
		Header:  frame.Header{StreamID: streamID, Type: t},
		Payload: tlv.EncodeFields(fields),
	}, nil
}

func DecodeRequestFrame(f frame.Frame) (Request, error) {
	if !IsRequestType(f.Header.Type) {
		return Request{}, fmt.Errorf("%w: %s is not a request", ErrUnexpectedType, f.Header.Type)
	}
	fields, err := decodeValidated(f)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Route: tlv.GetString(fields, schema.FieldRoute),
		Data:  tlv.GetBytes(fields, schema.FieldData),
	}, nil
}

// EncodePayloadFrame builds a payload frame. Flags is a combination of
// frame.FlagNext and frame.FlagComplete.
func EncodePayloadFrame(streamID uint64, data []byte, flags uint32) frame.Frame {
	var payload []byte
	if flags&frame.FlagNext != 0 {
		payload = tlv.EncodeFields([]tlv.Field{tlv.Bytes(schema.FieldData, data)})
	}
	return frame.Frame{
		Header:  frame.Header{StreamID: streamID, Type: frame.TypePayload, Flags: flags},
		Payload: payload,
	}
}

func DecodePayloadFrame(f frame.Frame) ([]byte, error) {
	if f.Header.Type != frame.TypePayload {
		return nil, fmt.Errorf("%w: want payload got %s", ErrUnexpectedType, f.Header.Type)
	}
	fields, err := decodeValidated(f)
	if err != nil {
		return nil, err
	}
	return tlv.GetBytes(fields, schema.FieldData), nil
}

// ErrorPayload is the decoded body of an error frame.
type ErrorPayload struct {
	Code    ErrorCode
	Message string
}

func EncodeErrorFrame(streamID uint64, code ErrorCode, message string) frame.Frame {
	fields := []tlv.Field{
		tlv.U32(schema.FieldErrorCode, uint32(code)),
		tlv.String(schema.FieldErrorMessage, message),
	}
	return frame.Frame{
		Header:  frame.Header{StreamID: streamID, Type: frame.TypeError},
		Payload: tlv.EncodeFields(fields),
	}
}

func DecodeErrorFrame(f frame.Frame) (ErrorPayload, error) {
	if f.Header.Type != frame.TypeError {
		return ErrorPayload{}, fmt.Errorf("%w: want error got %s", ErrUnexpectedType, f.Header.Type)
	}
	fields, err := decodeValidated(f)
	if err != nil {
		return ErrorPayload{}, err
	}
	code, err := tlv.GetU32(fields, schema.FieldErrorCode)
	if err != nil {
		return ErrorPayload{}, err
	}
	return ErrorPayload{
		Code:    ErrorCode(code),
		Message: tlv.GetString(fields, schema.FieldErrorMessage),
	}, nil
}

func EncodeCancelFrame(streamID uint64) frame.Frame {
	return frame.Frame{Header: frame.Header{StreamID: streamID, Type: frame.TypeCancel}}
}

func decodeValidated(f frame.Frame) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(f.Header.Type, fields); err != nil {
		return nil, err
	}
	return fields, nil
}
