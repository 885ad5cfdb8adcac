// Package playback is the C7 Playback Controller: it owns the queue of
// loaded streams, exposes add/play/pause/stop/seek/status, and supervises
// each stream's fetch loop (C5) and monitor task (C8).
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/streamplayer/pkg/audiosource"
	"github.com/drgolem/streamplayer/pkg/fetchloop"
	"github.com/drgolem/streamplayer/pkg/monitor"
	"github.com/drgolem/streamplayer/pkg/samplering"
)

// PlaybackStatus is spec §3's PlaybackStatus enum, owned by the controller.
type PlaybackStatus int32

const (
	StatusInitializing PlaybackStatus = iota
	StatusPaused
	StatusPlaying
	StatusStopped
	StatusError
)

func (s PlaybackStatus) String() string {
	switch s {
	case StatusInitializing:
		return "INITIALIZING"
	case StatusPaused:
		return "PAUSED"
	case StatusPlaying:
		return "PLAYING"
	case StatusStopped:
		return "STOPPED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrQueueEmpty is returned by operations that need a head stream when none
// is loaded.
var ErrQueueEmpty = errors.New("playback: no stream loaded")

// Status is a point-in-time snapshot, the Go analogue of the original
// bridge's send_audio_player_status publisher (spec §9 supplemented feature).
type Status struct {
	State           PlaybackStatus
	PositionSec     float64
	RemainBufferSec float64
}

// Fetcher is the subset of pkg/rpcclient.Client the controller needs.
type Fetcher interface {
	fetchloop.Fetcher
	GetMetadata(ctx context.Context, id string) (audiosource.Source, error)
}

// Device is the subset of pkg/outputdevice.Device the controller drives.
type Device interface {
	Start() error
	Pause() error
	Resume() error
	Close() error
	PlayCursor() uint64
	SetPlayCursor(frames uint64)
}

// Resampler is the subset of pkg/resampler.Resampler the controller owns.
type Resampler interface {
	fetchloop.Resampler
	Close() error
}

// DeviceFactory builds a Device bound to ring. Abstracted so tests can
// substitute a fake instead of opening real PortAudio hardware.
type DeviceFactory func(deviceIndex, channels, sampleRate, framesPerBuffer int, ring *samplering.Ring) (Device, error)

// ResamplerFactory builds a Resampler for the given source->host conversion.
type ResamplerFactory func(sourceRate, hostRate, channels, kIn int) (Resampler, error)

// Config holds the controller's fixed construction parameters.
type Config struct {
	Host             audiosource.HostFormat
	DeviceIndex      int
	FramesPerBuffer  int
	InputBlockFrames int // resampler K_in, source-rate frames per channel
}

// Controller is the C7 Playback Controller.
type Controller struct {
	fetcher          Fetcher
	deviceFactory    DeviceFactory
	resamplerFactory ResamplerFactory
	cfg              Config

	mu      sync.Mutex
	streams []*stream
}

// New builds a Controller. The queue starts empty.
func New(fetcher Fetcher, deviceFactory DeviceFactory, resamplerFactory ResamplerFactory, cfg Config) *Controller {
	return &Controller{
		fetcher:          fetcher,
		deviceFactory:    deviceFactory,
		resamplerFactory: resamplerFactory,
		cfg:              cfg,
	}
}

// stream is the controller's private bookkeeping for one loaded Stream
// (spec §3's Stream, minus the parts that live in samplering/resampler/
// outputdevice themselves).
type stream struct {
	source audiosource.Source
	ring   *samplering.Ring
	device Device
	rs     Resampler

	status atomic.Int32
	stopCh chan struct{}

	loopCancel    context.CancelFunc
	loopWG        sync.WaitGroup
	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	tasksOnce    sync.Once
	done         chan struct{}
	teardownOnce sync.Once
}

// Add fetches metadata and builds the stream's ring/resampler/device, then
// enqueues it. The device and resampler are live from the start, but the
// fetch loop and monitor (I6: "additional streams queue behind it and do
// not start fetching until promoted") only start once the stream becomes
// head, either here (queue was empty) or later in Stop (queue advances).
// Returns ContentDurationSec (spec §4.6).
func (c *Controller) Add(ctx context.Context, id string) (float64, error) {
	source, err := c.fetcher.GetMetadata(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("playback: fetching metadata for %q: %w", id, err)
	}

	ring := samplering.New(int(c.cfg.Host.Channels))

	rs, err := c.resamplerFactory(int(source.Metadata.SampleRate), int(c.cfg.Host.SampleRate), int(c.cfg.Host.Channels), c.cfg.InputBlockFrames)
	if err != nil {
		return 0, fmt.Errorf("playback: building resampler for %q: %w", id, err)
	}

	device, err := c.deviceFactory(c.cfg.DeviceIndex, int(c.cfg.Host.Channels), int(c.cfg.Host.SampleRate), c.cfg.FramesPerBuffer, ring)
	if err != nil {
		if cerr := rs.Close(); cerr != nil {
			slog.Warn("playback: closing resampler after failed device open", "error", cerr)
		}
		return 0, fmt.Errorf("playback: opening device for %q: %w", id, err)
	}

	st := &stream{
		source: source,
		ring:   ring,
		device: device,
		rs:     rs,
		stopCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	st.status.Store(int32(StatusInitializing))

	c.mu.Lock()
	c.streams = append(c.streams, st)
	isHead := len(c.streams) == 1
	c.mu.Unlock()

	if isHead {
		c.promote(st)
	}

	return source.ContentDurationSec(c.cfg.Host), nil
}

// promote starts st's fetch loop and monitor tasks and moves it to PAUSED.
// Only ever called for the head of the queue: a stream Added behind an
// existing head stays dormant (no network fetching, no device pause/resume
// from the monitor) until Stop advances the queue and promotes it here.
// Idempotent, so Stop can call it unconditionally on the new head without
// tracking whether Add already promoted it.
func (c *Controller) promote(st *stream) {
	st.tasksOnce.Do(func() {
		c.startTasks(st, st.stopCh, 0)
		go c.watchStop(st, st.stopCh)
	})
	st.status.Store(int32(StatusPaused))
}

// startTasks launches the fetch loop (from startFrame) and the monitor for
// st. Callers must hold no lock; it only touches st and c's read-only config.
func (c *Controller) startTasks(st *stream, stopCh chan struct{}, startFrame uint64) {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	st.loopCancel = loopCancel

	loop := fetchloop.New(c.fetcher, st.source, c.cfg.Host, st.ring, st.rs, startFrame)

	st.loopWG.Add(1)
	go func() {
		defer st.loopWG.Done()
		loop.Run(loopCtx, st.device.PlayCursor, func(err error) { c.fail(st, err) })
	}()

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	st.monitorCancel = monitorCancel

	hostRate := float64(c.cfg.Host.SampleRate)
	mon := monitor.New(st.device, monitor.Source{
		RemainSec: func() float64 {
			return float64(st.ring.Len()) / hostRate
		},
		RemainingContentSec: func() float64 {
			return st.source.ContentDurationSec(c.cfg.Host) - float64(st.device.PlayCursor())/hostRate
		},
	}, stopCh)

	st.monitorWG.Add(1)
	go func() {
		defer st.monitorWG.Done()
		mon.Run(monitorCtx)
	}()
}

// watchStop waits for the monitor's end-of-content signal (or the stream
// being torn down some other way) and, if this stream is still the head,
// executes stop (spec §4.6: "C7 ... drains messages and executes stop when
// signaled").
func (c *Controller) watchStop(st *stream, stopCh <-chan struct{}) {
	select {
	case <-stopCh:
	case <-st.done:
		return
	}

	c.mu.Lock()
	isHead := len(c.streams) > 0 && c.streams[0] == st
	c.mu.Unlock()

	if isHead {
		if err := c.Stop(); err != nil {
			slog.Warn("playback: auto-stop on end-of-content failed", "error", err)
		}
	}
}

func (c *Controller) fail(st *stream, err error) {
	slog.Error("playback: stream failed", "error", err)
	st.status.Store(int32(StatusError))
	if perr := st.device.Pause(); perr != nil {
		slog.Warn("playback: pausing failed stream", "error", perr)
	}
}

func (c *Controller) head() (*stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil, ErrQueueEmpty
	}
	return c.streams[0], nil
}

// Play resumes the head stream's device and moves it to PLAYING.
func (c *Controller) Play() error {
	st, err := c.head()
	if err != nil {
		return err
	}
	if err := st.device.Resume(); err != nil {
		return fmt.Errorf("playback: resuming device: %w", err)
	}
	st.status.Store(int32(StatusPlaying))
	return nil
}

// Pause pauses the head stream's device and moves it to PAUSED.
func (c *Controller) Pause() error {
	st, err := c.head()
	if err != nil {
		return err
	}
	if err := st.device.Pause(); err != nil {
		return fmt.Errorf("playback: pausing device: %w", err)
	}
	st.status.Store(int32(StatusPaused))
	return nil
}

// Stop drops the head stream, releasing its tasks and device, then promotes
// the next queued stream (if any) so it starts fetching (I6). Idempotent on
// an empty queue.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if len(c.streams) == 0 {
		c.mu.Unlock()
		return nil
	}
	st := c.streams[0]
	c.streams = c.streams[1:]
	var next *stream
	if len(c.streams) > 0 {
		next = c.streams[0]
	}
	c.mu.Unlock()

	st.status.Store(int32(StatusStopped))
	st.teardown()

	if next != nil {
		c.promote(next)
	}
	return nil
}

// teardown cancels both of a stream's tasks, waits for them to exit, and
// releases its device and resampler. Safe to call at most meaningfully once;
// later calls are no-ops.
func (st *stream) teardown() {
	st.teardownOnce.Do(func() {
		st.loopCancel()
		st.monitorCancel()
		st.loopWG.Wait()
		st.monitorWG.Wait()

		if err := st.device.Close(); err != nil {
			slog.Warn("playback: closing device", "error", err)
		}
		if err := st.rs.Close(); err != nil {
			slog.Warn("playback: closing resampler", "error", err)
		}
		close(st.done)
	})
}

// SetPlaybackPosition seeks the head stream per spec §9's "correct design":
// pause, rebuild the fetch loop at the new source-rate position with a
// cleared ring and a fresh resampler instance, reset PlayCursor, resume.
func (c *Controller) SetPlaybackPosition(sec float64) error {
	st, err := c.head()
	if err != nil {
		return err
	}

	if err := st.device.Pause(); err != nil {
		return fmt.Errorf("playback: pausing for seek: %w", err)
	}

	st.loopCancel()
	st.loopWG.Wait()

	st.ring.Reset()
	if err := st.rs.Close(); err != nil {
		slog.Warn("playback: closing resampler before seek", "error", err)
	}

	newResampler, err := c.resamplerFactory(int(st.source.Metadata.SampleRate), int(c.cfg.Host.SampleRate), int(c.cfg.Host.Channels), c.cfg.InputBlockFrames)
	if err != nil {
		return fmt.Errorf("playback: rebuilding resampler for seek: %w", err)
	}
	st.rs = newResampler

	startFrame := uint64(sec * float64(st.source.Metadata.SampleRate))
	if startFrame > st.source.Metadata.SampleFrames {
		startFrame = st.source.Metadata.SampleFrames
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	st.loopCancel = loopCancel
	loop := fetchloop.New(c.fetcher, st.source, c.cfg.Host, st.ring, st.rs, startFrame)

	st.loopWG.Add(1)
	go func() {
		defer st.loopWG.Done()
		loop.Run(loopCtx, st.device.PlayCursor, func(err error) { c.fail(st, err) })
	}()

	hostStart := uint64(sec * float64(c.cfg.Host.SampleRate))
	st.device.SetPlayCursor(hostStart)

	if err := st.device.Resume(); err != nil {
		return fmt.Errorf("playback: resuming after seek: %w", err)
	}
	st.status.Store(int32(StatusPlaying))
	return nil
}

// GetPlaybackPosition returns head.PlayCursor / host_rate, or 0 if empty.
func (c *Controller) GetPlaybackPosition() float64 {
	st, err := c.head()
	if err != nil {
		return 0
	}
	return float64(st.device.PlayCursor()) / float64(c.cfg.Host.SampleRate)
}

// GetRemainSampleBufferSec returns head.ring_length / host_rate, or 0 if empty.
func (c *Controller) GetRemainSampleBufferSec() float64 {
	st, err := c.head()
	if err != nil {
		return 0
	}
	return float64(st.ring.Len()) / float64(c.cfg.Host.SampleRate)
}

// GetStatus returns the head stream's status, or STOPPED if the queue is empty.
func (c *Controller) GetStatus() PlaybackStatus {
	st, err := c.head()
	if err != nil {
		return StatusStopped
	}
	return PlaybackStatus(st.status.Load())
}

// Subscribe starts a background publisher emitting a Status snapshot every
// interval until ctx is cancelled, the Go analogue of the original bridge's
// send_audio_player_status command (spec §9 supplemented feature). The
// returned channel is closed when the subscription ends.
func (c *Controller) Subscribe(ctx context.Context, interval time.Duration) <-chan Status {
	ch := make(chan Status, 1)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := Status{
					State:           c.GetStatus(),
					PositionSec:     c.GetPlaybackPosition(),
					RemainBufferSec: c.GetRemainSampleBufferSec(),
				}
				select {
				case ch <- snapshot:
				default:
				}
			}
		}
	}()

	return ch
}
