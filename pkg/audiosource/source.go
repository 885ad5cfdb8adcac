// Package audiosource holds the client's view of a remote audio source:
// its opaque server id and the immutable metadata the server reports for it,
// plus the host audio device's own format.
package audiosource

import "math"

// SourceMetadata is the server-reported description of a track. It never
// changes after it is fetched.
type SourceMetadata struct {
	BitRate      uint32
	SampleRate   uint32
	Channels     uint32 // expected 2
	ContentBytes uint32
	SampleFrames uint64
}

// Source pairs the server's opaque track id with its metadata.
type Source struct {
	ID       string
	Metadata SourceMetadata
}

// HostFormat describes the audio device the samples are ultimately rendered
// to. It is derived once from the device and never changes for the lifetime
// of a Stream.
type HostFormat struct {
	SampleRate uint32
	Channels   uint32 // expected 2
	// There is no SampleFormat field. Samples are float32 inside the ring;
	// pkg/outputdevice opens its PortAudio stream as interleaved int16, not
	// float32, and converts each sample when it renders.
}

// ResampledLength returns the number of host-rate frames the full source
// will occupy once resampled: ceil(sample_frames * host_rate / source_rate).
func (s Source) ResampledLength(host HostFormat) uint64 {
	if s.Metadata.SampleRate == 0 {
		return 0
	}
	num := float64(s.Metadata.SampleFrames) * float64(host.SampleRate)
	return uint64(math.Ceil(num / float64(s.Metadata.SampleRate)))
}

// ContentDurationSec returns the resampled length expressed in seconds.
func (s Source) ContentDurationSec(host HostFormat) float64 {
	if host.SampleRate == 0 {
		return 0
	}
	return float64(s.ResampledLength(host)) / float64(host.SampleRate)
}
