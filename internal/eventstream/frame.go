// Package eventstream decodes the AWS Event-Stream binary framing Kiro's
// streaming endpoint uses: length-prefixed, CRC32-validated messages with
// typed headers.
//
// The decoder is implemented by hand as an explicit resumable state
// machine rather than on github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream
// (which the teacher's own go.mod already depends on for other reasons);
// see DESIGN.md for why that package's blocking io.Reader-based API does
// not fit the chunk-boundary-invariance contract this package is built to.
package eventstream

// HeaderType identifies the wire type of one header value, per spec.md §4.4.
type HeaderType byte

const (
	HeaderBoolTrue  HeaderType = 0
	HeaderBoolFalse HeaderType = 1
	HeaderByte      HeaderType = 2
	HeaderInt16     HeaderType = 3
	HeaderInt32     HeaderType = 4
	HeaderInt64     HeaderType = 5
	HeaderByteArray HeaderType = 6
	HeaderString    HeaderType = 7
	HeaderTimestamp HeaderType = 8
	HeaderUUID      HeaderType = 9
)

// HeaderValue is a decoded header value. Exactly one field is meaningful,
// selected by Type.
type HeaderValue struct {
	Type      HeaderType
	Bool      bool
	Byte      byte
	Int16     int16
	Int32     int32
	Int64     int64
	ByteArray []byte
	String    string
	Timestamp int64 // epoch millis
	UUID      [16]byte
}

// Frame is one decoded message: its headers and payload.
type Frame struct {
	Headers map[string]HeaderValue
	Payload []byte
}

// EventType returns the frame's ":event-type" header string, or "" if
// absent or not a string.
func (f Frame) EventType() string {
	if v, ok := f.Headers[":event-type"]; ok && v.Type == HeaderString {
		return v.String
	}
	return ""
}

const (
	preludeLen   = 8  // total_len + headers_len
	preludeCRCLen = 4
	messageCRCLen = 4
	minFrameLen   = preludeLen + preludeCRCLen + messageCRCLen
)
