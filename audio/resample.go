package audio

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/faiface/beep"
)

type pcmStreamer struct {
	data []int16
	pos  int
}

func newPCMStreamer(b []byte) *pcmStreamer {
	samples := make([]int16, len(b)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return &pcmStreamer{data: samples}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos >= len(s.data) {
			return i, false
		}
		val := float64(s.data[s.pos]) / 32768.0
		samples[i][0] = val
		samples[i][1] = val // duplicate mono to stereo
		s.pos++
	}
	return len(samples), true
}

func (s *pcmStreamer) Err() error { return nil }

// ResamplePCM converts mono pcm16 data between sample rates.
func ResamplePCM(pcm []byte, fromRate, toRate int) ([]byte, error) {
	streamer := newPCMStreamer(pcm)
	resampler := beep.Resample(3, beep.SampleRate(fromRate), beep.SampleRate(toRate), streamer)

	buf := new(bytes.Buffer)
	sample := make([][2]float64, 1024)

	for {
		n, ok := resampler.Stream(sample)
		for i := 0; i < n; i++ {
			mono := (sample[i][0] + sample[i][1]) / 2.0
			if err := binary.Write(buf, binary.LittleEndian, int16(mono*32767)); err != nil {
				return nil, err
			}
		}
		if !ok {
			break
		}
	}

	return buf.Bytes(), nil
}

// ResampleWriter resamples everything written through it before
// handing the result to Sink.
type ResampleWriter struct {
	Sink     io.Writer
	FromRate int
	ToRate   int
}

func (w *ResampleWriter) Write(p []byte) (int, error) {
	if w.FromRate == w.ToRate {
		if _, err := w.Sink.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	out, err := ResamplePCM(p, w.FromRate, w.ToRate)
	if err != nil {
		return 0, err
	}
	if _, err := w.Sink.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
