// Package fetchloop is the C5 Fetch Loop: a periodic task that watches ring
// occupancy and remaining content, issues range fetches against the server,
// and turns the raw PCM bytes it gets back into resampled frames in the
// sample ring.
package fetchloop

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/drgolem/streamplayer/pkg/audiosource"
	"github.com/drgolem/streamplayer/pkg/samplering"
)

// Tunables from spec §4.4.
const (
	TickPeriod        = 5000 * time.Millisecond
	LowWatermarkSec   = 20.0
	FetchWatermarkSec = 50.0

	// int16Scale is the corrected i16 PCM scaling factor. The source this
	// spec was distilled from divides by the host sample rate instead,
	// producing near-silent amplitudes; that divergence is not replicated.
	int16Scale = 32768.0
)

// Phase is the producer-local fetch phase, exposed only as status.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseRefill
	PhaseSteady
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseRefill:
		return "REFILL"
	case PhaseSteady:
		return "STEADY"
	default:
		return "UNKNOWN"
	}
}

// Fetcher is the subset of pkg/rpcclient.Client the loop depends on.
type Fetcher interface {
	GetPCMRange(ctx context.Context, id string, startFrame, endFrame, sampleFrames uint64) ([]byte, error)
}

// Resampler is the subset of pkg/resampler.Resampler the loop depends on.
type Resampler interface {
	InputBlockFrames() int
	Process(in [][]float32) (out [][]float32, err error)
}

// Loop owns the Remainder bytes and drives fetch/decode/resample/enqueue.
// A Loop is single-use: it belongs to exactly one Stream for its lifetime
// (I5); a seek builds a fresh Loop rather than reusing one.
type Loop struct {
	fetcher   Fetcher
	source    audiosource.Source
	host      audiosource.HostFormat
	ring      *samplering.Ring
	resampler Resampler

	lastRequestedFrame atomic.Uint64
	phase              atomic.Int32

	remainder []byte // owned exclusively by the loop goroutine (I4)
}

// New builds a Loop starting its next fetch at startFrame (0 for a fresh
// Stream, or a seek target).
func New(fetcher Fetcher, source audiosource.Source, host audiosource.HostFormat, ring *samplering.Ring, resampler Resampler, startFrame uint64) *Loop {
	l := &Loop{
		fetcher:   fetcher,
		source:    source,
		host:      host,
		ring:      ring,
		resampler: resampler,
	}
	l.lastRequestedFrame.Store(startFrame)
	return l
}

// LastRequestedFrame returns the end frame of the most recent range fetch.
func (l *Loop) LastRequestedFrame() uint64 {
	return l.lastRequestedFrame.Load()
}

// Phase returns the current fetch phase.
func (l *Loop) Phase() Phase {
	return Phase(l.phase.Load())
}

func (l *Loop) setPhase(p Phase) {
	l.phase.Store(int32(p))
}

// Run drives the periodic tick until ctx is cancelled. playCursorFrames
// reports the device's current PlayCursor so remaining_content_sec can be
// computed. onFatal is called (and the loop exits) on a non-transient error.
func (l *Loop) Run(ctx context.Context, playCursorFrames func() uint64, onFatal func(error)) {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.tick(ctx, playCursorFrames()); err != nil {
				slog.Error("fetch loop tick failed", "error", err)
				if onFatal != nil {
					onFatal(err)
				}
				return
			}
		}
	}
}

// tick implements spec §4.4's three-way branch. Kept as a separate
// (unexported) method rather than inlined into Run so tests in this package
// can drive single ticks deterministically.
func (l *Loop) tick(ctx context.Context, playCursor uint64) error {
	hostRate := float64(l.host.SampleRate)
	remainSec := float64(l.ring.Len()) / hostRate
	remainingContentSec := l.source.ContentDurationSec(l.host) - float64(playCursor)/hostRate

	switch {
	case remainingContentSec <= LowWatermarkSec:
		// Tail-end: let the ring drain, issue no more fetches.
		return nil
	case remainSec < LowWatermarkSec:
		l.setPhase(PhaseRefill)
		return l.fetch(ctx)
	default:
		if l.ring.Len() == 0 {
			l.setPhase(PhaseRefill)
		} else {
			l.setPhase(PhaseSteady)
		}
		return nil
	}
}

// fetch issues one FETCH-second range request, decodes+resamples it into
// whole resampler blocks, and enqueues the result (spec §4.4 "Fetch
// processing").
func (l *Loop) fetch(ctx context.Context) error {
	startFrame := l.lastRequestedFrame.Load()
	sampleFrames := l.source.Metadata.SampleFrames

	reqFrames := uint64(FetchWatermarkSec * float64(l.source.Metadata.SampleRate))
	endFrame := startFrame + reqFrames
	if endFrame > sampleFrames {
		endFrame = sampleFrames
	}
	if startFrame >= endFrame {
		return nil
	}

	data, err := l.fetcher.GetPCMRange(ctx, l.source.ID, startFrame, endFrame, sampleFrames)
	if err != nil {
		return fmt.Errorf("fetchloop: fetching frames [%d,%d): %w", startFrame, endFrame, err)
	}
	l.lastRequestedFrame.Store(endFrame)

	channels := int(l.host.Channels)
	kIn := l.resampler.InputBlockFrames()
	blockBytes := kIn * channels * 2
	if blockBytes == 0 {
		return fmt.Errorf("fetchloop: resampler block size is zero")
	}
	if len(data)%(channels*2) != 0 {
		return fmt.Errorf("fetchloop: payload of %d bytes is not a whole number of %d-channel i16 frames", len(data), channels)
	}

	payload := make([]byte, 0, len(l.remainder)+len(data))
	payload = append(payload, l.remainder...)
	payload = append(payload, data...)

	nBlocks := len(payload) / blockBytes
	for b := 0; b < nBlocks; b++ {
		block := payload[b*blockBytes : (b+1)*blockBytes]
		in := deinterleave(block, channels, kIn)

		out, err := l.resampler.Process(in)
		if err != nil {
			return fmt.Errorf("fetchloop: resampling block %d: %w", b, err)
		}
		if len(out) > 0 && len(out[0]) > 0 {
			l.ring.Extend(out)
		}
	}

	l.remainder = append([]byte(nil), payload[nBlocks*blockBytes:]...)
	return nil
}

// deinterleave decodes a block of big-endian interleaved i16 PCM into N
// per-channel float32 vectors of length frames (spec §4.4c).
func deinterleave(block []byte, channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}

	pos := 0
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			sample := int16(binary.BigEndian.Uint16(block[pos : pos+2]))
			out[c][f] = float32(sample) / int16Scale
			pos += 2
		}
	}
	return out
}
