package eventstream

import (
	"encoding/binary"
	"hash/crc32"
)

// phase is the decoder's explicit state variant. Feed drives the state
// machine forward exactly as far as the buffered bytes allow and returns.
// Only phaseReadPrelude and phaseReadHeaders are ever entered: once the
// prelude validates, step moves to phaseReadHeaders (calling itself once),
// waits there for the whole frame, parses headers and payload together and
// returns to phaseReadPrelude. phaseReadPayload and phaseDone are declared
// but never set; a terminated decoder is marked by its stored error.
type phase int

const (
	phaseReadPrelude phase = iota
	phaseReadHeaders
	phaseReadPayload
	phaseDone
)

// Decoder consumes an arbitrary-chunked byte stream and yields a sequence
// of Frame values. It owns an unconsumed-input buffer and retains partial
// state between Feed calls, so chunk boundaries (including 1-byte chunks)
// never change the decoded result.
type Decoder struct {
	buf    []byte
	phase  phase
	maxLen uint32

	totalLen   uint32
	headersLen uint32

	err error
}

// New creates a Decoder. maxLen caps total_len (length_out_of_bounds
// failure mode); pass 0 to use the default 16 MiB.
func New(maxLen uint32) *Decoder {
	if maxLen == 0 {
		maxLen = DefaultMaxFrameLength
	}
	return &Decoder{maxLen: maxLen, phase: phaseReadPrelude}
}

const DefaultMaxFrameLength = 16 * 1024 * 1024

// Feed appends chunk to the decoder's internal buffer and extracts as many
// complete frames as are now available. Once Feed returns a non-nil error,
// the decoder is terminated: any further Feed call returns the same error
// and no frames. Partial frames are never delivered.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(chunk) > 0 {
		d.buf = append(d.buf, chunk...)
	}

	var frames []Frame
	for {
		frame, ok, err := d.step()
		if err != nil {
			d.err = err
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// step advances the state machine by at most one frame. ok=false means
// there is not yet enough buffered data to make progress; the caller
// should wait for the next Feed call.
func (d *Decoder) step() (Frame, bool, error) {
	switch d.phase {
	case phaseReadPrelude:
		if len(d.buf) < minFrameLen {
			return Frame{}, false, nil
		}
		preludeCRC := binary.BigEndian.Uint32(d.buf[8:12])
		if crc32.ChecksumIEEE(d.buf[0:8]) != preludeCRC {
			return Frame{}, false, ErrPreludeCRCMismatch
		}

		totalLen := binary.BigEndian.Uint32(d.buf[0:4])
		headersLen := binary.BigEndian.Uint32(d.buf[4:8])
		if totalLen > d.maxLen || totalLen < minFrameLen || uint64(headersLen) > uint64(totalLen)-16 {
			return Frame{}, false, ErrLengthOutOfBounds
		}
		d.totalLen = totalLen
		d.headersLen = headersLen
		d.phase = phaseReadHeaders
		return d.step()

	case phaseReadHeaders, phaseReadPayload:
		if uint32(len(d.buf)) < d.totalLen {
			return Frame{}, false, nil
		}
		return d.finishFrame()

	default:
		return Frame{}, false, ErrLengthOutOfBounds
	}
}

func (d *Decoder) finishFrame() (Frame, bool, error) {
	frameBytes := d.buf[:d.totalLen]

	messageCRC := binary.BigEndian.Uint32(frameBytes[d.totalLen-4 : d.totalLen])
	computed := crc32.ChecksumIEEE(frameBytes[:d.totalLen-4])
	if computed != messageCRC {
		return Frame{}, false, ErrMessageCRCMismatch
	}

	headersStart := uint32(preludeLen + preludeCRCLen)
	headersEnd := headersStart + d.headersLen
	payloadEnd := d.totalLen - uint32(messageCRCLen)

	headers, err := parseHeaders(frameBytes[headersStart:headersEnd])
	if err != nil {
		return Frame{}, false, err
	}
	payload := append([]byte(nil), frameBytes[headersEnd:payloadEnd]...)

	d.buf = append([]byte(nil), d.buf[d.totalLen:]...)
	d.phase = phaseReadPrelude
	d.totalLen = 0
	d.headersLen = 0

	return Frame{Headers: headers, Payload: payload}, true, nil
}

func parseHeaders(data []byte) (map[string]HeaderValue, error) {
	headers := map[string]HeaderValue{}
	off := 0
	for off < len(data) {
		if off+1 > len(data) {
			return nil, ErrTruncatedHeader
		}
		nameLen := int(data[off])
		off++
		if off+nameLen > len(data) {
			return nil, ErrTruncatedHeader
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		if off+1 > len(data) {
			return nil, ErrTruncatedHeader
		}
		htype := HeaderType(data[off])
		off++

		value, consumed, err := parseHeaderValue(htype, data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		headers[name] = value
	}
	return headers, nil
}

func parseHeaderValue(htype HeaderType, data []byte) (HeaderValue, int, error) {
	switch htype {
	case HeaderBoolTrue:
		return HeaderValue{Type: htype, Bool: true}, 0, nil
	case HeaderBoolFalse:
		return HeaderValue{Type: htype, Bool: false}, 0, nil
	case HeaderByte:
		if len(data) < 1 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		return HeaderValue{Type: htype, Byte: data[0]}, 1, nil
	case HeaderInt16:
		if len(data) < 2 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		return HeaderValue{Type: htype, Int16: int16(binary.BigEndian.Uint16(data))}, 2, nil
	case HeaderInt32:
		if len(data) < 4 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		return HeaderValue{Type: htype, Int32: int32(binary.BigEndian.Uint32(data))}, 4, nil
	case HeaderInt64:
		if len(data) < 8 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		return HeaderValue{Type: htype, Int64: int64(binary.BigEndian.Uint64(data))}, 8, nil
	case HeaderTimestamp:
		if len(data) < 8 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		return HeaderValue{Type: htype, Timestamp: int64(binary.BigEndian.Uint64(data))}, 8, nil
	case HeaderUUID:
		if len(data) < 16 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		var u [16]byte
		copy(u[:], data[:16])
		return HeaderValue{Type: htype, UUID: u}, 16, nil
	case HeaderByteArray:
		if len(data) < 2 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		n := int(binary.BigEndian.Uint16(data))
		if len(data) < 2+n {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		b := append([]byte(nil), data[2:2+n]...)
		return HeaderValue{Type: htype, ByteArray: b}, 2 + n, nil
	case HeaderString:
		if len(data) < 2 {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		n := int(binary.BigEndian.Uint16(data))
		if len(data) < 2+n {
			return HeaderValue{}, 0, ErrTruncatedHeader
		}
		s := string(data[2 : 2+n])
		return HeaderValue{Type: htype, String: s}, 2 + n, nil
	default:
		return HeaderValue{}, 0, ErrInvalidHeaderType
	}
}
