// Package outputdevice is the C6 Output Callback: a PortAudio output stream
// that pulls host-rate samples from a pkg/samplering.Ring on every hardware
// buffer request. It never allocates and never performs I/O inside the
// callback (spec §4.5); the only lock it takes is the ring's mutex, held for
// the drain itself. The only work done there is draining the ring and
// converting float32 samples to the device's native int16 format.
package outputdevice

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/drgolem/streamplayer/pkg/samplering"
)

// int16Scale converts a unit-range float32 sample to the int16 range the
// hardware device expects.
const int16Scale = 32767.0

// Device owns a PortAudio output stream and the ring it drains.
type Device struct {
	stream          *portaudio.PaStream
	ring            *samplering.Ring
	channels        int
	framesPerBuffer int

	// scratch is the callback's per-channel staging buffer, sized once at
	// Open and reused on every invocation so the real-time path never
	// allocates (spec §4.5).
	scratch [][]float32

	playCursor atomic.Uint64 // host-rate frames written to hardware so far (I2)
	underruns  atomic.Uint64
}

// Open configures but does not start a PortAudio output stream bound to
// ring. The stream is created in the PAUSED lifecycle state (spec §3): call
// Start to begin producing sound.
func Open(deviceIndex, channels, sampleRate, framesPerBuffer int, ring *samplering.Ring) (*Device, error) {
	scratch := make([][]float32, channels)
	for c := range scratch {
		scratch[c] = make([]float32, framesPerBuffer)
	}

	d := &Device{
		ring:            ring,
		channels:        channels,
		framesPerBuffer: framesPerBuffer,
		scratch:         scratch,
	}

	d.stream = &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  deviceIndex,
			ChannelCount: channels,
			SampleFormat: portaudio.SampleFmtInt16,
		},
		SampleRate: float64(sampleRate),
	}

	if err := d.stream.OpenCallback(framesPerBuffer, d.callback); err != nil {
		return nil, fmt.Errorf("outputdevice: opening stream: %w", err)
	}
	return d, nil
}

// Start begins hardware playback.
func (d *Device) Start() error {
	return d.stream.StartStream()
}

// Pause halts the hardware callback without tearing the stream down, so
// Resume is immediate (spec §3: PLAYING <-> PAUSED).
func (d *Device) Pause() error {
	return d.stream.StopStream()
}

// Resume restarts a paused stream.
func (d *Device) Resume() error {
	return d.stream.StartStream()
}

// Close stops and releases the underlying stream.
func (d *Device) Close() error {
	if err := d.stream.StopStream(); err != nil {
		return fmt.Errorf("outputdevice: stopping stream: %w", err)
	}
	return d.stream.CloseCallback()
}

// PlayCursor returns the number of host-rate frames written to hardware so
// far. Monotonically non-decreasing except across a seek reset (I2).
func (d *Device) PlayCursor() uint64 {
	return d.playCursor.Load()
}

// SetPlayCursor overwrites the cursor. Used by a seek to reestablish I2 at
// the new position (spec §9: "reset PlayCursor to floor(sec * host_rate)").
func (d *Device) SetPlayCursor(frames uint64) {
	d.playCursor.Store(frames)
}

// Underruns returns the number of callback invocations that had to
// silence-fill part of their buffer because the ring ran dry.
func (d *Device) Underruns() uint64 {
	return d.underruns.Load()
}

func (d *Device) callback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	frames := render(d.ring, output, d.channels, int(frameCount), d.scratch)
	if frames < int(frameCount) {
		d.underruns.Add(1)
	}
	d.playCursor.Add(uint64(frames))
	return portaudio.Continue
}

// render drains up to wantFrames frames from ring into output as
// little-endian interleaved int16 PCM, silence-filling anything it could not
// supply. scratch is the caller's reusable per-channel staging buffer (must
// have one slice per channel, each with length at least wantFrames); render
// only ever writes into scratch's existing capacity, so it performs no
// allocation and is safe to call from the audio thread.
func render(ring *samplering.Ring, output []byte, channels, wantFrames int, scratch [][]float32) int {
	frames := ring.Drain(scratch, wantFrames)

	pos := 0
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			v := clampToInt16(scratch[c][f] * int16Scale)
			binary.LittleEndian.PutUint16(output[pos:pos+2], uint16(v))
			pos += 2
		}
	}
	if pos < len(output) {
		clear(output[pos:])
	}
	return frames
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
