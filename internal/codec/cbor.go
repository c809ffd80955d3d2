// Package codec encodes application payloads carried inside protocol frames.
//
// Payloads use CBOR with Core Deterministic Encoding so the same value always
// produces the same bytes on both sides of a connection.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MimeType identifies CBOR payloads in setup frames.
const MimeType = "application/cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Peers never use non-string map keys; decode any-typed maps the
		// way encoding/json would.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown struct fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose renders data in CBOR diagnostic notation for debug logging.
func Diagnose(data []byte) string {
	out, err := cbor.Diagnose(data)
	if err != nil {
		return "<invalid cbor: " + err.Error() + ">"
	}
	return out
}
