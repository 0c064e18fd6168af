package audio

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResamplePCMHalvesSampleCount(t *testing.T) {
	in := make([]byte, 48_000*BytesPerSample) // one second at 48kHz
	out, err := ResamplePCM(in, 48_000, 24_000)
	require.NoError(t, err)

	// resampler output length is approximate around one second at 24kHz
	assert.InDelta(t, 24_000*BytesPerSample, len(out), 64)
}

func TestResampleWriterPassthroughOnEqualRates(t *testing.T) {
	var sink bytes.Buffer
	w := &ResampleWriter{Sink: &sink, FromRate: 24_000, ToRate: 24_000}

	in := []byte{1, 2, 3, 4}
	n, err := w.Write(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, in, sink.Bytes())
}

func TestResampleWriterConverts(t *testing.T) {
	var sink bytes.Buffer
	w := &ResampleWriter{Sink: &sink, FromRate: 48_000, ToRate: 24_000}

	in := make([]byte, 4800*BytesPerSample) // 100ms at 48kHz
	n, err := w.Write(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n, "Write reports consumed input bytes")
	assert.InDelta(t, 2400*BytesPerSample, sink.Len(), 64)
}

func TestIOUserAudioReachesSession(t *testing.T) {
	aio := NewIO(24_000, 24_000, 20*time.Millisecond)

	chunk := ChunkSize(24_000, 20*time.Millisecond, BytesPerSample, 1)
	in := bytes.Repeat([]byte{0x7f, 0x00}, chunk/2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = aio.UserWriter.Write(in)
	}()

	buf := make([]byte, chunk)
	n, err := aio.SessionReader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, chunk, n)
	assert.Equal(t, in, buf[:n])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("user write never completed")
	}
}

func TestIOClearPlayback(t *testing.T) {
	aio := NewIO(24_000, 24_000, 20*time.Millisecond)

	_, err := aio.SessionWriter.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	aio.ClearPlayback()
	// nothing left to read; a subsequent session write still works
	_, err = aio.SessionWriter.Write([]byte{5, 6})
	require.NoError(t, err)
}
