// Package audio holds the PCM16 helpers the realtime session needs:
// the wire's base64 text encoding, sample/byte bookkeeping, fixed-size
// chunking and resampling.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"time"
)

const (
	// BytesPerSample is the width of one pcm16 mono sample.
	BytesPerSample = 2
)

// EncodeBase64PCM16 encodes raw little-endian pcm16 bytes to the wire's
// text encoding.
func EncodeBase64PCM16(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64PCM16 is the inverse of EncodeBase64PCM16.
func DecodeBase64PCM16(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Float32ToPCM16 converts float32 amplitude samples to little-endian
// pcm16 bytes, clipping to [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		clipped := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clipped*32767)))
	}
	return out
}

// ChunkSize returns the byte size of an audio chunk covering d at the
// given sample rate.
func ChunkSize(sampleRate int, d time.Duration, bytesPerSample, channels int) int {
	frames := int(float64(sampleRate) * d.Seconds())
	return frames * bytesPerSample * channels
}

// SamplesToMilliseconds converts a sample count at rate to wall time in
// milliseconds.
func SamplesToMilliseconds(samples, rate int) int {
	return int(float64(samples) / float64(rate) * 1000)
}
