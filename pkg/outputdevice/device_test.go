package outputdevice

import (
	"encoding/binary"
	"testing"

	"github.com/drgolem/streamplayer/pkg/samplering"
)

func newScratch(channels, frames int) [][]float32 {
	s := make([][]float32, channels)
	for c := range s {
		s[c] = make([]float32, frames)
	}
	return s
}

func TestRenderFillsFromRing(t *testing.T) {
	ring := samplering.New(2)
	ring.Extend([][]float32{{0.5, -0.5}, {1, -1}})

	output := make([]byte, 2*2*2) // 2 frames, 2 channels, 2 bytes/sample
	frames := render(ring, output, 2, 2, newScratch(2, 2))

	if frames != 2 {
		t.Fatalf("render() frames = %d, want 2", frames)
	}

	left0 := int16(binary.LittleEndian.Uint16(output[0:2]))
	right0 := int16(binary.LittleEndian.Uint16(output[2:4]))
	if left0 <= 0 || right0 <= 0 {
		t.Errorf("frame 0: left=%d right=%d, want both positive", left0, right0)
	}
}

func TestRenderUnderrunSilenceFills(t *testing.T) {
	ring := samplering.New(2)
	ring.Extend([][]float32{{0.1}, {0.1}})

	output := make([]byte, 4*2*2) // ask for 4 frames, ring only has 1
	for i := range output {
		output[i] = 0xff
	}
	frames := render(ring, output, 2, 4, newScratch(2, 4))

	if frames != 1 {
		t.Fatalf("render() frames = %d, want 1", frames)
	}
	for i := 4; i < len(output); i++ {
		if output[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0 (silence)", i, output[i])
		}
	}
}

func TestRenderEmptyRingIsAllSilence(t *testing.T) {
	ring := samplering.New(1)
	output := make([]byte, 10*2)
	for i := range output {
		output[i] = 0xff
	}

	frames := render(ring, output, 1, 10, newScratch(1, 10))
	if frames != 0 {
		t.Fatalf("render() frames = %d, want 0", frames)
	}
	for i, b := range output {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0 (silence)", i, b)
		}
	}
}

func TestClampToInt16(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{40000, 32767},
		{-40000, -32768},
	}
	for _, c := range cases {
		if got := clampToInt16(c.in); got != c.want {
			t.Errorf("clampToInt16(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
