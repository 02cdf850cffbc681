package eventstream

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Encode serializes a Frame into the wire format Decode expects. Used by
// tests to exercise the frame round-trip property (spec.md §8).
func Encode(f Frame) ([]byte, error) {
	headerBytes, err := encodeHeaders(f.Headers)
	if err != nil {
		return nil, err
	}

	headersLen := uint32(len(headerBytes))
	totalLen := minFrameLen + headersLen + uint32(len(f.Payload))

	buf := make([]byte, totalLen)
	binary.BigEndian.PutUint32(buf[0:4], totalLen)
	binary.BigEndian.PutUint32(buf[4:8], headersLen)
	binary.BigEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(buf[0:8]))

	copy(buf[12:12+headersLen], headerBytes)
	copy(buf[12+headersLen:totalLen-4], f.Payload)

	messageCRC := crc32.ChecksumIEEE(buf[:totalLen-4])
	binary.BigEndian.PutUint32(buf[totalLen-4:totalLen], messageCRC)

	return buf, nil
}

func encodeHeaders(headers map[string]HeaderValue) ([]byte, error) {
	var out []byte
	for name, v := range headers {
		if len(name) > 255 {
			return nil, fmt.Errorf("eventstream: header name %q too long", name)
		}
		out = append(out, byte(len(name)))
		out = append(out, []byte(name)...)
		out = append(out, byte(v.Type))

		switch v.Type {
		case HeaderBoolTrue, HeaderBoolFalse:
			// no value bytes
		case HeaderByte:
			out = append(out, v.Byte)
		case HeaderInt16:
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(v.Int16))
			out = append(out, b[:]...)
		case HeaderInt32:
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(v.Int32))
			out = append(out, b[:]...)
		case HeaderInt64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v.Int64))
			out = append(out, b[:]...)
		case HeaderTimestamp:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v.Timestamp))
			out = append(out, b[:]...)
		case HeaderUUID:
			out = append(out, v.UUID[:]...)
		case HeaderByteArray:
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(len(v.ByteArray)))
			out = append(out, b[:]...)
			out = append(out, v.ByteArray...)
		case HeaderString:
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(len(v.String)))
			out = append(out, b[:]...)
			out = append(out, []byte(v.String)...)
		default:
			return nil, ErrInvalidHeaderType
		}
	}
	return out, nil
}
