package sockbus

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
)

// Frames are CBOR values written back to back on the stream; the CBOR
// encoding is self-delimiting so no length prefix is needed.

type frameType string

const (
	frameJoin  frameType = "join"
	frameEvent frameType = "event"
)

type frame struct {
	Type    frameType      `cbor:"type"`
	Channel string         `cbor:"channel,omitempty"`
	Event   *tabsync.Event `cbor:"event,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Token expiry instants keep their precision and zone on the wire.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("sockbus: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Identity profiles are map[string]any; nested maps must decode the
		// same way rather than as map[any]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("sockbus: CBOR decoder initialization failed: " + err.Error())
	}
}

func newEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }
func newDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
