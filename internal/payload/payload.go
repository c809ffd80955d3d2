// Package payload defines the application values exchanged on every route.
package payload

import (
	"fmt"
	"time"

	"github.com/danmuck/streamshell/internal/codec"
)

// Message is the value sent and received by the client routes.
type Message struct {
	Origin  string `cbor:"origin"`
	Content string `cbor:"content"`
}

func NewMessage(origin, content string) Message {
	return Message{Origin: origin, Content: content}
}

func (m Message) String() string {
	return fmt.Sprintf("Message(origin=%s, content=%s)", m.Origin, m.Content)
}

func EncodeMessage(m Message) ([]byte, error) {
	return codec.Marshal(m)
}

func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("payload: decode message: %w", err)
	}
	return m, nil
}

// Setting carries one emission interval on the channel route, in whole seconds.
type Setting struct {
	IntervalSeconds int64 `cbor:"interval_seconds"`
}

func (s Setting) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func EncodeSetting(interval time.Duration) ([]byte, error) {
	return codec.Marshal(Setting{IntervalSeconds: int64(interval / time.Second)})
}

func DecodeSetting(data []byte) (Setting, error) {
	var s Setting
	if err := codec.Unmarshal(data, &s); err != nil {
		return Setting{}, fmt.Errorf("payload: decode setting: %w", err)
	}
	if s.IntervalSeconds <= 0 {
		return Setting{}, fmt.Errorf("payload: invalid setting interval %d", s.IntervalSeconds)
	}
	return s, nil
}

// EncodeText and DecodeText carry plain strings (setup data, client status).
func EncodeText(s string) ([]byte, error) {
	return codec.Marshal(s)
}

func DecodeText(data []byte) (string, error) {
	var s string
	if err := codec.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("payload: decode text: %w", err)
	}
	return s, nil
}
