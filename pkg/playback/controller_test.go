package playback

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drgolem/streamplayer/pkg/audiosource"
	"github.com/drgolem/streamplayer/pkg/samplering"
)

type fakeFetcher struct {
	source audiosource.Source
}

func (f *fakeFetcher) GetMetadata(ctx context.Context, id string) (audiosource.Source, error) {
	return f.source, nil
}

func (f *fakeFetcher) GetPCMRange(ctx context.Context, id string, startFrame, endFrame, sampleFrames uint64) ([]byte, error) {
	frames := endFrame - startFrame
	return make([]byte, frames*uint64(f.source.Metadata.Channels)*2), nil
}

type fakeDevice struct {
	cursor  atomic.Uint64
	paused  atomic.Bool
	closed  atomic.Bool
	pauses  atomic.Int32
	resumes atomic.Int32
}

func (d *fakeDevice) Start() error  { return nil }
func (d *fakeDevice) Pause() error  { d.paused.Store(true); d.pauses.Add(1); return nil }
func (d *fakeDevice) Resume() error { d.paused.Store(false); d.resumes.Add(1); return nil }
func (d *fakeDevice) Close() error  { d.closed.Store(true); return nil }
func (d *fakeDevice) PlayCursor() uint64 {
	return d.cursor.Load()
}
func (d *fakeDevice) SetPlayCursor(frames uint64) {
	d.cursor.Store(frames)
}

type fakeResampler struct {
	kIn    int
	closed atomic.Bool
}

func (r *fakeResampler) InputBlockFrames() int { return r.kIn }
func (r *fakeResampler) Process(in [][]float32) ([][]float32, error) {
	out := make([][]float32, len(in))
	for c, chanSamples := range in {
		out[c] = append([]float32(nil), chanSamples...)
	}
	return out, nil
}
func (r *fakeResampler) Close() error {
	r.closed.Store(true)
	return nil
}

func newTestController(source audiosource.Source, devices *[]*fakeDevice) *Controller {
	fetcher := &fakeFetcher{source: source}
	deviceFactory := func(deviceIndex, channels, sampleRate, framesPerBuffer int, ring *samplering.Ring) (Device, error) {
		d := &fakeDevice{}
		if devices != nil {
			*devices = append(*devices, d)
		}
		return d, nil
	}
	resamplerFactory := func(sourceRate, hostRate, channels, kIn int) (Resampler, error) {
		return &fakeResampler{kIn: kIn}, nil
	}
	cfg := Config{
		Host:             audiosource.HostFormat{SampleRate: 48000, Channels: 2},
		FramesPerBuffer:  512,
		InputBlockFrames: 1024,
	}
	return New(fetcher, deviceFactory, resamplerFactory, cfg)
}

func longTrack() audiosource.Source {
	return audiosource.Source{
		ID: "track-1",
		Metadata: audiosource.SourceMetadata{
			SampleRate:   44100,
			Channels:     2,
			SampleFrames: 44100 * 3600, // an hour, far from any watermark tail
		},
	}
}

func TestAddReturnsContentDuration(t *testing.T) {
	source := audiosource.Source{
		ID: "track-1",
		Metadata: audiosource.SourceMetadata{
			SampleRate:   44100,
			Channels:     2,
			SampleFrames: 441000, // 10s at 44100
		},
	}
	c := newTestController(source, nil)

	duration, err := c.Add(context.Background(), "track-1")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if duration != 10.0 {
		t.Errorf("Add() duration = %v, want 10.0", duration)
	}
	if got := c.GetStatus(); got != StatusPaused {
		t.Errorf("GetStatus() after Add = %v, want PAUSED", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestPlayPauseStopTransitions(t *testing.T) {
	var devices []*fakeDevice
	c := newTestController(longTrack(), &devices)

	if _, err := c.Add(context.Background(), "track-1"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := c.Play(); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if got := c.GetStatus(); got != StatusPlaying {
		t.Errorf("GetStatus() after Play = %v, want PLAYING", got)
	}

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if got := c.GetStatus(); got != StatusPaused {
		t.Errorf("GetStatus() after Pause = %v, want PAUSED", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if got := c.GetStatus(); got != StatusStopped {
		t.Errorf("GetStatus() after Stop = %v, want STOPPED (empty queue)", got)
	}

	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if !devices[0].closed.Load() {
		t.Error("device was not closed on Stop()")
	}
}

func TestOperationsOnEmptyQueue(t *testing.T) {
	c := newTestController(longTrack(), nil)

	if err := c.Play(); err != ErrQueueEmpty {
		t.Errorf("Play() on empty queue = %v, want ErrQueueEmpty", err)
	}
	if err := c.Pause(); err != ErrQueueEmpty {
		t.Errorf("Pause() on empty queue = %v, want ErrQueueEmpty", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() on empty queue = %v, want nil (idempotent)", err)
	}
	if got := c.GetPlaybackPosition(); got != 0 {
		t.Errorf("GetPlaybackPosition() on empty queue = %v, want 0", got)
	}
	if got := c.GetRemainSampleBufferSec(); got != 0 {
		t.Errorf("GetRemainSampleBufferSec() on empty queue = %v, want 0", got)
	}
	if got := c.GetStatus(); got != StatusStopped {
		t.Errorf("GetStatus() on empty queue = %v, want STOPPED", got)
	}
}

func TestMonitorAutoStopsAtEndOfContent(t *testing.T) {
	// A track whose PlayCursor the fake device already reports as at the
	// very end: the monitor should pause on its first tick (ring starts
	// empty) and, seeing remaining content near zero, signal stop.
	source := audiosource.Source{
		ID: "short",
		Metadata: audiosource.SourceMetadata{
			SampleRate:   48000,
			Channels:     2,
			SampleFrames: 4800, // 0.1s
		},
	}
	var devices []*fakeDevice
	c := newTestController(source, &devices)

	if _, err := c.Add(context.Background(), "short"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	devices[0].cursor.Store(4800) // already at ResampledLength

	deadline := time.After(500 * time.Millisecond)
	for {
		c.mu.Lock()
		empty := len(c.streams) == 0
		c.mu.Unlock()
		if empty {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor did not auto-stop the stream within 500ms")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSetPlaybackPositionSeeks(t *testing.T) {
	var devices []*fakeDevice
	c := newTestController(longTrack(), &devices)

	if _, err := c.Add(context.Background(), "track-1"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := c.Play(); err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	if err := c.SetPlaybackPosition(30.0); err != nil {
		t.Fatalf("SetPlaybackPosition() error: %v", err)
	}

	wantCursor := uint64(30.0 * 48000)
	if got := devices[0].cursor.Load(); got != wantCursor {
		t.Errorf("PlayCursor after seek = %d, want %d", got, wantCursor)
	}
	if got := c.GetStatus(); got != StatusPlaying {
		t.Errorf("GetStatus() after seek = %v, want PLAYING", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

// TestQueuedStreamDoesNotStartTasksUntilPromoted is I6: a stream Added
// behind an existing head must not touch the network or its device until
// it is promoted to head.
func TestQueuedStreamDoesNotStartTasksUntilPromoted(t *testing.T) {
	var devices []*fakeDevice
	c := newTestController(longTrack(), &devices)

	if _, err := c.Add(context.Background(), "a"); err != nil {
		t.Fatalf("Add(a) error: %v", err)
	}
	if _, err := c.Add(context.Background(), "b"); err != nil {
		t.Fatalf("Add(b) error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}

	// Give the head's monitor time to run at least once (10ms period); the
	// queued stream's monitor must never have started.
	time.Sleep(50 * time.Millisecond)
	if devices[0].pauses.Load() == 0 {
		t.Error("head stream's monitor never ran")
	}
	if devices[1].pauses.Load() != 0 || devices[1].resumes.Load() != 0 {
		t.Errorf("queued stream's device was touched before promotion: pauses=%d resumes=%d",
			devices[1].pauses.Load(), devices[1].resumes.Load())
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	deadline := time.After(500 * time.Millisecond)
	for devices[1].pauses.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("promoted stream's monitor did not start within 500ms")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := c.GetStatus(); got != StatusPaused {
		t.Errorf("GetStatus() after promotion = %v, want PAUSED", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("final Stop() error: %v", err)
	}
}
