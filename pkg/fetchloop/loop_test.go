package fetchloop

import (
	"context"
	"testing"

	"github.com/drgolem/streamplayer/pkg/audiosource"
	"github.com/drgolem/streamplayer/pkg/samplering"
)

// fakeFetcher returns deterministic silent PCM, recording every request made.
type fakeFetcher struct {
	sampleRate int
	channels   int
	calls      []fakeCall
	err        error
}

type fakeCall struct {
	start, end uint64
}

func (f *fakeFetcher) GetPCMRange(ctx context.Context, id string, startFrame, endFrame, sampleFrames uint64) ([]byte, error) {
	f.calls = append(f.calls, fakeCall{startFrame, endFrame})
	if f.err != nil {
		return nil, f.err
	}
	frames := endFrame - startFrame
	return make([]byte, frames*uint64(f.channels)*2), nil
}

// fakeResampler passes K_in frames straight through as K_out, 1:1, so test
// assertions can compute exact expected ring growth without depending on
// SoXR's real warm-up behavior.
type fakeResampler struct {
	kIn   int
	calls int
}

func (r *fakeResampler) InputBlockFrames() int { return r.kIn }

func (r *fakeResampler) Process(in [][]float32) ([][]float32, error) {
	r.calls++
	out := make([][]float32, len(in))
	for c, chanSamples := range in {
		out[c] = append([]float32(nil), chanSamples...)
	}
	return out, nil
}

func newTestSource(sampleRate int, sampleFrames uint64) audiosource.Source {
	return audiosource.Source{
		ID: "track-1",
		Metadata: audiosource.SourceMetadata{
			SampleRate:   uint32(sampleRate),
			Channels:     2,
			SampleFrames: sampleFrames,
		},
	}
}

func TestFetchClampsToSampleFrames(t *testing.T) {
	// 10 seconds of content at 44100 Hz is well under one FETCH-second
	// request (50s), so a single fetch should clamp end_frame to
	// sample_frames and LastRequestedFrame should land there, not beyond (I3).
	source := newTestSource(44100, 441000)
	host := audiosource.HostFormat{SampleRate: 48000, Channels: 2}
	ring := samplering.New(2)
	fetcher := &fakeFetcher{sampleRate: 44100, channels: 2}
	rs := &fakeResampler{kIn: 1024}

	loop := New(fetcher, source, host, ring, rs, 0)
	if err := loop.fetch(context.Background()); err != nil {
		t.Fatalf("fetch() error: %v", err)
	}

	if got := loop.LastRequestedFrame(); got != 441000 {
		t.Errorf("LastRequestedFrame() = %d, want 441000 (clamped to sample_frames)", got)
	}
	if len(fetcher.calls) != 1 {
		t.Fatalf("GetPCMRange called %d times, want 1", len(fetcher.calls))
	}
	if fetcher.calls[0].start != 0 || fetcher.calls[0].end != 441000 {
		t.Errorf("request = [%d,%d), want [0,441000)", fetcher.calls[0].start, fetcher.calls[0].end)
	}
}

func TestFetchNoOpWhenAlreadyAtEnd(t *testing.T) {
	source := newTestSource(44100, 441000)
	host := audiosource.HostFormat{SampleRate: 48000, Channels: 2}
	ring := samplering.New(2)
	fetcher := &fakeFetcher{sampleRate: 44100, channels: 2}
	rs := &fakeResampler{kIn: 1024}

	loop := New(fetcher, source, host, ring, rs, 441000)
	if err := loop.fetch(context.Background()); err != nil {
		t.Fatalf("fetch() error: %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("GetPCMRange called %d times, want 0 when already at sample_frames", len(fetcher.calls))
	}
}

func TestFetchSplitsIntoBlocksAndSavesRemainder(t *testing.T) {
	// kIn=4 frames/block, 2 channels, 2 bytes/sample -> 16 bytes/block.
	// A 50-frame request yields 200 bytes = 12 whole blocks (192 bytes) +
	// 8 trailing bytes (2 frames, short of one block) kept as Remainder (I4/P4).
	const kIn = 4
	source := newTestSource(1, 50) // sample_rate=1 makes FETCH-seconds clamp trivially to 50 frames
	host := audiosource.HostFormat{SampleRate: 48000, Channels: 2}
	ring := samplering.New(2)
	fetcher := &fakeFetcher{sampleRate: 1, channels: 2}
	rs := &fakeResampler{kIn: kIn}

	loop := New(fetcher, source, host, ring, rs, 0)
	if err := loop.fetch(context.Background()); err != nil {
		t.Fatalf("fetch() error: %v", err)
	}

	if rs.calls != 12 {
		t.Errorf("resampler.Process called %d times, want 12", rs.calls)
	}
	if got := ring.Len(); got != 12*kIn {
		t.Errorf("ring.Len() = %d, want %d", got, 12*kIn)
	}
	if len(loop.remainder) != 8 {
		t.Errorf("len(remainder) = %d, want 8", len(loop.remainder))
	}
}

func TestFetchPrependsRemainderToNextFetch(t *testing.T) {
	const kIn = 4
	// sample_rate=2 makes one FETCH-second (50s) request exactly 100 frames.
	source := newTestSource(2, 100)
	host := audiosource.HostFormat{SampleRate: 48000, Channels: 2}
	ring := samplering.New(2)
	fetcher := &fakeFetcher{sampleRate: 2, channels: 2}
	rs := &fakeResampler{kIn: kIn}

	loop := New(fetcher, source, host, ring, rs, 0)
	loop.remainder = make([]byte, 8) // 2 frames (4 bytes/frame), short of one block, already pending

	if err := loop.fetch(context.Background()); err != nil {
		t.Fatalf("fetch() error: %v", err)
	}

	// payload = 8 remainder bytes + (100 frames * 2ch * 2B) = 8 + 400 = 408
	// bytes = 25 whole 16-byte blocks (400 bytes) + 8 trailing bytes.
	if rs.calls != 25 {
		t.Errorf("resampler.Process called %d times, want 25", rs.calls)
	}
	if len(loop.remainder) != 8 {
		t.Errorf("len(remainder) = %d, want 8", len(loop.remainder))
	}
}

func TestTickDoesNothingNearEndOfContent(t *testing.T) {
	source := newTestSource(44100, 441000) // 10s of content
	host := audiosource.HostFormat{SampleRate: 48000, Channels: 2}
	ring := samplering.New(2)
	fetcher := &fakeFetcher{sampleRate: 44100, channels: 2}
	rs := &fakeResampler{kIn: 1024}

	loop := New(fetcher, source, host, ring, rs, 0)
	// PlayCursor already within LOW watermark of the end of a 10s track.
	playCursor := uint64(9.5 * 48000)
	if err := loop.tick(context.Background(), playCursor); err != nil {
		t.Fatalf("tick() error: %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("tick near end of content issued %d fetches, want 0", len(fetcher.calls))
	}
}

func TestTickIssuesFetchBelowLowWatermark(t *testing.T) {
	source := newTestSource(44100, 441000*100) // long track, far from the tail
	host := audiosource.HostFormat{SampleRate: 48000, Channels: 2}
	ring := samplering.New(2)
	fetcher := &fakeFetcher{sampleRate: 44100, channels: 2}
	rs := &fakeResampler{kIn: 1024}

	loop := New(fetcher, source, host, ring, rs, 0)
	if err := loop.tick(context.Background(), 0); err != nil {
		t.Fatalf("tick() error: %v", err)
	}
	if len(fetcher.calls) != 1 {
		t.Fatalf("tick with empty ring issued %d fetches, want 1", len(fetcher.calls))
	}
	if loop.Phase() != PhaseRefill {
		t.Errorf("Phase() = %v, want PhaseRefill", loop.Phase())
	}
}
