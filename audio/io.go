package audio

import (
	"io"
	"time"

	"github.com/smallnest/ringbuffer"
)

// IO wires the user-facing and session-facing audio endpoints through
// a pair of blocking ring buffers, resampling between the user's
// device rate and the wire rate.
type IO struct {
	wireRate    int
	agentBuffer *ringbuffer.RingBuffer

	// UserWriter is where user microphone audio goes in.
	UserWriter io.Writer
	// UserReader is where user playback audio comes out.
	UserReader io.Reader
	// SessionReader is where the session reads user audio to send.
	SessionReader io.Reader
	// SessionWriter is where the session writes model audio.
	SessionWriter io.Writer
}

// ClearPlayback drops any buffered model audio, used when the user
// interrupts playback mid-utterance.
func (a *IO) ClearPlayback() {
	a.agentBuffer.Reset()
}

func NewIO(userSampleRate, wireRate int, latency time.Duration) *IO {
	userBuffer := ringbuffer.New(ChunkSize(wireRate, latency, BytesPerSample, 1) * 2).SetBlocking(true)
	agentBuffer := ringbuffer.New(ChunkSize(wireRate, 60*time.Second, BytesPerSample, 1) * 2).SetBlocking(true)

	return &IO{
		wireRate:    wireRate,
		agentBuffer: agentBuffer,
		UserWriter: &ResampleWriter{
			Sink:     userBuffer,
			FromRate: userSampleRate,
			ToRate:   wireRate,
		},
		UserReader:    NewFixedAudioChunkReader(agentBuffer, userSampleRate, latency, BytesPerSample, 1),
		SessionReader: NewFixedAudioChunkReader(userBuffer, wireRate, latency, BytesPerSample, 1),
		SessionWriter: &ResampleWriter{
			Sink:     agentBuffer,
			FromRate: wireRate,
			ToRate:   userSampleRate,
		},
	}
}
