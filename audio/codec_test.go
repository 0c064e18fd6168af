package audio

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64RoundTrip(t *testing.T) {
	pcm := []byte{0x00, 0x01, 0x7f, 0x80, 0xff, 0xfe}
	got, err := DecodeBase64PCM16(EncodeBase64PCM16(pcm))
	require.NoError(t, err)
	require.Equal(t, pcm, got)
}

func TestDecodeBase64RejectsGarbage(t *testing.T) {
	_, err := DecodeBase64PCM16("not base64!!")
	require.Error(t, err)
}

func TestFloat32ToPCM16(t *testing.T) {
	got := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	require.Len(t, got, 12)

	read := func(i int) int16 {
		return int16(uint16(got[i*2]) | uint16(got[i*2+1])<<8)
	}
	assert.Equal(t, int16(0), read(0))
	assert.Equal(t, int16(32767), read(1))
	assert.Equal(t, int16(-32767), read(2))
	// out-of-range input clips
	assert.Equal(t, int16(32767), read(3))
	assert.Equal(t, int16(-32767), read(4))
	assert.Equal(t, int16(16383), read(5))
}

func TestChunkSize(t *testing.T) {
	// 24kHz mono pcm16, 100ms -> 2400 frames * 2 bytes
	assert.Equal(t, 4800, ChunkSize(24_000, 100*time.Millisecond, 2, 1))
	// 48kHz stereo
	assert.Equal(t, 19_200, ChunkSize(48_000, 100*time.Millisecond, 2, 2))
}

func TestSamplesToMilliseconds(t *testing.T) {
	assert.Equal(t, 1000, SamplesToMilliseconds(24_000, 24_000))
	assert.Equal(t, 100, SamplesToMilliseconds(2400, 24_000))
	assert.Equal(t, 0, SamplesToMilliseconds(0, 24_000))
}

func TestFixedChunkReaderEmitsFullChunks(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0xab}, 25))
	r := NewFixedChunkReader(src, 10)

	buf := make([]byte, 10)
	var sizes []int
	for {
		n, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, n)
	}
	require.Equal(t, []int{10, 10, 5}, sizes)
}

func TestFixedChunkReaderBuffersShortReads(t *testing.T) {
	// iotest-style reader delivering one byte at a time
	r := NewFixedChunkReader(oneByteReader{bytes.NewReader(make([]byte, 8))}, 4)
	buf := make([]byte, 4)

	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestFixedChunkReaderRejectsSmallBuffer(t *testing.T) {
	r := NewFixedChunkReader(bytes.NewReader(make([]byte, 10)), 10)
	_, err := r.Read(make([]byte, 5))
	require.Error(t, err)
}

type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}
