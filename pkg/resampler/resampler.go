// Package resampler adapts SoXR (github.com/zaf/resample) — an io.Writer
// streaming resampler — to the fixed-block, per-channel-float contract the
// fetch loop (pkg/fetchloop) needs: feed exactly K_in source-rate frames per
// channel, get back however many host-rate frames SoXR has flushed so far.
//
// The resampler instance is stateful and must live for the whole Stream; it
// is never reset between fetches (resetting would produce audible
// discontinuities at fetch boundaries).
package resampler

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/drgolem/ringbuffer"
	soxr "github.com/zaf/resample"
)

const (
	// int16Scale is the correct decode/encode scaling factor for 16-bit PCM
	// samples. The original client divided decoded i16 values by the host
	// sample rate instead of 32768, which produced inaudibly small
	// amplitudes; that divergence is documented, not replicated (spec §9).
	int16Scale = 32768.0

	// ringBytes sizes the internal byte staging ring between SoXR's writer
	// side and the float32 conversion. It only needs to hold a handful of
	// resampled blocks at once.
	ringBytes = 256 * 1024
)

// Resampler is a fixed K_in -> K_out block resampler for N interleaved
// channels, source_rate -> host_rate.
type Resampler struct {
	sx         *soxr.Resampler
	ring       *ringbuffer.RingBuffer
	channels   int
	kIn        int
	sourceRate int
	hostRate   int
}

// New builds a Resampler. kIn is the number of source-rate frames per
// channel each Process call must be fed.
func New(sourceRate, hostRate, channels, kIn int) (*Resampler, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("resampler: channels must be positive, got %d", channels)
	}
	if kIn <= 0 {
		return nil, fmt.Errorf("resampler: kIn must be positive, got %d", kIn)
	}

	ring := ringbuffer.New(ringBytes)

	sx, err := soxr.New(ring, float64(sourceRate), float64(hostRate), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resampler: failed to create soxr engine: %w", err)
	}

	return &Resampler{
		sx:         sx,
		ring:       ring,
		channels:   channels,
		kIn:        kIn,
		sourceRate: sourceRate,
		hostRate:   hostRate,
	}, nil
}

// InputBlockFrames returns K_in: the exact number of source-rate frames per
// channel every Process call must be given.
func (r *Resampler) InputBlockFrames() int {
	return r.kIn
}

// Process consumes exactly K_in frames per channel (in) and returns however
// many host-rate frames per channel SoXR has flushed so far (out). len(out[c])
// can be zero on early calls while SoXR's internal filter fills its delay
// line; it is never negative and never holds a partial frame across channels.
func (r *Resampler) Process(in [][]float32) (out [][]float32, err error) {
	if len(in) != r.channels {
		return nil, fmt.Errorf("resampler: got %d channels, want %d", len(in), r.channels)
	}
	for c, chanSamples := range in {
		if len(chanSamples) != r.kIn {
			return nil, fmt.Errorf("resampler: channel %d has %d frames, want %d", c, len(chanSamples), r.kIn)
		}
	}

	interleaved := make([]byte, r.kIn*r.channels*2)
	pos := 0
	for frame := 0; frame < r.kIn; frame++ {
		for c := 0; c < r.channels; c++ {
			sample := clampToInt16(in[c][frame] * int16Scale)
			binary.LittleEndian.PutUint16(interleaved[pos:pos+2], uint16(sample))
			pos += 2
		}
	}

	if _, err := r.sx.Write(interleaved); err != nil {
		return nil, fmt.Errorf("resampler: soxr write failed: %w", err)
	}

	available := r.ring.AvailableRead()
	if available == 0 {
		return emptyChannels(r.channels), nil
	}

	// Truncate to whole interleaved frames; any odd trailing byte/sample
	// stays buffered in the ring for the next Process call.
	bytesPerFrame := uint64(r.channels * 2)
	frames := available / bytesPerFrame
	if frames == 0 {
		return emptyChannels(r.channels), nil
	}
	toRead := frames * bytesPerFrame

	raw := make([]byte, toRead)
	n, err := r.ring.Read(raw)
	if err != nil {
		return nil, fmt.Errorf("resampler: draining resampled output: %w", err)
	}
	raw = raw[:n]

	out = make([][]float32, r.channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	pos = 0
	for f := uint64(0); f < frames; f++ {
		for c := 0; c < r.channels; c++ {
			sample := int16(binary.LittleEndian.Uint16(raw[pos : pos+2]))
			out[c][f] = float32(sample) / int16Scale
			pos += 2
		}
	}

	return out, nil
}

// Close releases the underlying SoXR engine. It must be called once the
// owning Stream is done with the Resampler.
func (r *Resampler) Close() error {
	return r.sx.Close()
}

func clampToInt16(v float32) int16 {
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func emptyChannels(n int) [][]float32 {
	out := make([][]float32, n)
	for c := range out {
		out[c] = []float32{}
	}
	return out
}
