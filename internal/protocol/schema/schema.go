package schema

import (
	"fmt"

	"github.com/danmuck/streamshell/internal/protocol/frame"
	"github.com/danmuck/streamshell/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Field IDs carried in frame payloads.
const (
	FieldRoute        uint16 = 1
	FieldData         uint16 = 2
	FieldDataMime     uint16 = 3
	FieldMetadataMime uint16 = 4

	FieldErrorCode    uint16 = 100
	FieldErrorMessage uint16 = 101
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	FrameType frame.Type
	FieldID   uint16
	Reason    string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: frame_type=%s: %s", e.FrameType, e.Reason)
	}
	return fmt.Sprintf("schema: frame_type=%s field=%d: %s", e.FrameType, e.FieldID, e.Reason)
}

var requirements = map[frame.Type][]Requirement{
	frame.TypeSetup: {
		{FieldRoute, tlv.TypeString},
		{FieldDataMime, tlv.TypeString},
		{FieldMetadataMime, tlv.TypeString},
	},
	frame.TypeRequestResponse: {
		{FieldRoute, tlv.TypeString},
	},
	frame.TypeFireAndForget: {
		{FieldRoute, tlv.TypeString},
	},
	frame.TypeRequestStream: {
		{FieldRoute, tlv.TypeString},
	},
	frame.TypeRequestChannel: {
		{FieldRoute, tlv.TypeString},
	},
	frame.TypePayload: {},
	frame.TypeError: {
		{FieldErrorCode, tlv.TypeU32},
		{FieldErrorMessage, tlv.TypeString},
	},
	frame.TypeCancel: {},
}

// Validate enforces required fields and required field types for a frame type.
// Unknown fields are ignored.
func Validate(frameType frame.Type, fields []tlv.Field) error {
	reqs, ok := requirements[frameType]
	if !ok {
		log.Error().Msgf("schema.Validate unknown frame_type=%s", frameType)
		return ValidationError{FrameType: frameType, Reason: "unknown frame_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Msgf(
				"schema.Validate missing field frame_type=%s field_id=%d",
				frameType,
				req.ID,
			)
			return ValidationError{FrameType: frameType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().Msgf(
				"schema.Validate type mismatch frame_type=%s field_id=%d got=%d want=%d",
				frameType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{FrameType: frameType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Msgf("schema.Validate ok frame_type=%s fields=%d", frameType, len(fields))
	return nil
}
