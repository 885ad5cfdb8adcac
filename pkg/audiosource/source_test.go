package audiosource

import "testing"

func TestResampledLength(t *testing.T) {
	tests := []struct {
		name       string
		srcRate    uint32
		frames     uint64
		hostRate   uint32
		wantFrames uint64
	}{
		{"happy path 44100->48000", 44100, 441000, 48000, 480000},
		{"matching rates", 44100, 44100, 44100, 44100},
		{"short track clamp-free", 44100, 4410, 48000, 4800},
		{"zero source rate", 0, 1000, 48000, 0},
	}

	for _, tt := range tests {
		src := Source{ID: "t", Metadata: SourceMetadata{SampleRate: tt.srcRate, SampleFrames: tt.frames}}
		host := HostFormat{SampleRate: tt.hostRate, Channels: 2}

		if got := src.ResampledLength(host); got != tt.wantFrames {
			t.Errorf("%s: ResampledLength() = %d, want %d", tt.name, got, tt.wantFrames)
		}
	}
}

func TestContentDurationSec(t *testing.T) {
	src := Source{ID: "t", Metadata: SourceMetadata{SampleRate: 44100, SampleFrames: 441000}}
	host := HostFormat{SampleRate: 48000, Channels: 2}

	got := src.ContentDurationSec(host)
	want := 10.0
	if got != want {
		t.Errorf("ContentDurationSec() = %v, want %v", got, want)
	}
}

func TestContentDurationSecEmptyHost(t *testing.T) {
	src := Source{ID: "t", Metadata: SourceMetadata{SampleRate: 44100, SampleFrames: 441000}}
	if got := src.ContentDurationSec(HostFormat{}); got != 0 {
		t.Errorf("ContentDurationSec() with zero host rate = %v, want 0", got)
	}
}
