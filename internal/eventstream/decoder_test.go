package eventstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrames() []Frame {
	return []Frame{
		{
			Headers: map[string]HeaderValue{
				":event-type":    {Type: HeaderString, String: "text-delta"},
				":content-type":  {Type: HeaderString, String: "application/json"},
			},
			Payload: []byte(`{"delta":"hello"}`),
		},
		{
			Headers: map[string]HeaderValue{
				":event-type": {Type: HeaderString, String: "completion"},
			},
			Payload: []byte(`{"stop_reason":"end_turn"}`),
		},
	}
}

func encodeAll(t *testing.T, frames []Frame) []byte {
	t.Helper()
	var out []byte
	for _, f := range frames {
		b, err := Encode(f)
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

func TestDecoderFeedOneChunk(t *testing.T) {
	stream := encodeAll(t, sampleFrames())
	d := New(0)
	frames, err := d.Feed(stream)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "text-delta", frames[0].EventType())
	assert.Equal(t, "completion", frames[1].EventType())
	assert.Equal(t, []byte(`{"delta":"hello"}`), frames[0].Payload)
}

func TestDecoderChunkBoundaryInvariance(t *testing.T) {
	stream := encodeAll(t, sampleFrames())

	chunkSizes := [][]int{
		{len(stream)},
		{1, 1, 1, 1, 1},
		{5, 3, 10, 2, 7, 1000},
		makeOnesOf(len(stream)),
	}

	var reference []Frame
	{
		d := New(0)
		frames, err := d.Feed(stream)
		require.NoError(t, err)
		reference = frames
	}

	for _, sizes := range chunkSizes {
		d := New(0)
		var got []Frame
		pos := 0
		i := 0
		for pos < len(stream) {
			size := 1
			if i < len(sizes) {
				size = sizes[i]
			}
			i++
			end := pos + size
			if end > len(stream) {
				end = len(stream)
			}
			frames, err := d.Feed(stream[pos:end])
			require.NoError(t, err)
			got = append(got, frames...)
			pos = end
		}
		require.Len(t, got, len(reference))
		for idx := range reference {
			assert.Equal(t, reference[idx].EventType(), got[idx].EventType())
			assert.Equal(t, reference[idx].Payload, got[idx].Payload)
		}
	}
}

func makeOnesOf(n int) []int {
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = 1
	}
	return sizes
}

func TestDecoderFrameRoundTrip(t *testing.T) {
	for _, f := range sampleFrames() {
		encoded, err := Encode(f)
		require.NoError(t, err)

		d := New(0)
		frames, err := d.Feed(encoded)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, f.Payload, frames[0].Payload)
		assert.Equal(t, f.EventType(), frames[0].EventType())
	}
}

func TestDecoderCorruptedByteProducesCRCMismatch(t *testing.T) {
	f := sampleFrames()[0]
	encoded, err := Encode(f)
	require.NoError(t, err)

	// Corrupt a byte inside the payload region.
	corrupted := append([]byte(nil), encoded...)
	corrupted[len(corrupted)-6] ^= 0xFF

	d := New(0)
	_, err = d.Feed(corrupted)
	require.Error(t, err)
	assert.Contains(t, []error{ErrPreludeCRCMismatch, ErrMessageCRCMismatch}, err)
}

func TestDecoderIncompleteFrameWaits(t *testing.T) {
	f := Frame{
		Headers: map[string]HeaderValue{":event-type": {Type: HeaderString, String: "x"}},
		Payload: []byte("ok"),
	}
	encoded, err := Encode(f)
	require.NoError(t, err)

	// Chop off the trailing message CRC and part of the payload so the
	// prelude still parses but the frame is short by construction: fed as
	// one chunk, the decoder should simply wait (no error) since it never
	// sees a complete frame.
	d := New(0)
	frames, err := d.Feed(encoded[:len(encoded)-5])
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestDecoderZeroLengthHeadersIsLegal(t *testing.T) {
	f := Frame{Headers: map[string]HeaderValue{}, Payload: []byte("payload-only")}
	encoded, err := Encode(f)
	require.NoError(t, err)

	d := New(0)
	frames, err := d.Feed(encoded)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, f.Payload, frames[0].Payload)
	assert.Empty(t, frames[0].Headers)
}

func TestDecoderLengthOutOfBounds(t *testing.T) {
	d := New(16)
	f := sampleFrames()[0]
	encoded, err := Encode(f)
	require.NoError(t, err)

	_, err = d.Feed(encoded)
	assert.ErrorIs(t, err, ErrLengthOutOfBounds)
}
