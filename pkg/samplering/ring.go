// Package samplering implements the per-channel FIFO of host-rate float32
// samples between the fetch loop (single producer) and the output callback
// (single consumer). Unlike pkg/ringbuffer's lock-free byte ring, this one
// is guarded by a single mutex spanning all channels, because the producer
// must extend every channel atomically for I1 (equal-length channels at
// every quiescent point) to hold.
package samplering

import "sync"

// Ring is a per-channel unbounded FIFO of float32 samples.
//
// Thread safety: Extend must only be called by the fetch loop (producer);
// Drain must only be called by the output callback (consumer). Both hold
// the same mutex for the duration of their call, which is the happens-before
// edge between a producer enqueue and the consumer dequeue of the samples
// it just wrote.
type Ring struct {
	mu       sync.Mutex
	channels [][]float32
}

// New creates an empty Ring for the given channel count.
func New(channels int) *Ring {
	return &Ring{channels: make([][]float32, channels)}
}

// Extend appends equal-length runs to every channel in a single critical
// section. len(runs) must equal the ring's channel count, and every run must
// have the same length; Extend panics otherwise since that would break I1
// and indicates a producer bug, not a runtime condition to recover from.
func (r *Ring) Extend(runs [][]float32) {
	if len(runs) == 0 {
		return
	}
	want := len(runs[0])
	for _, run := range runs {
		if len(run) != want {
			panic("samplering: Extend called with unequal channel run lengths")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.channels) != len(runs) {
		panic("samplering: Extend called with wrong channel count")
	}
	for c, run := range runs {
		r.channels[c] = append(r.channels[c], run...)
	}
}

// Drain pops up to maxFrames samples per channel into the caller-supplied
// dst, stopping at the first frame where any channel is empty (an
// underrun). dst must carry one slice per channel, each with length at
// least maxFrames; Drain only ever writes into existing capacity and
// performs no allocation, so the output callback can reuse the same dst
// across every hardware request instead of getting a fresh one each time.
func (r *Ring) Drain(dst [][]float32, maxFrames int) (frames int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(dst) != len(r.channels) {
		panic("samplering: Drain called with wrong channel count")
	}

	for ; frames < maxFrames; frames++ {
		for c, ch := range r.channels {
			if len(ch) == 0 {
				return frames
			}
			dst[c][frames] = ch[0]
		}
		for c, ch := range r.channels {
			r.channels[c] = ch[1:]
		}
	}
	return frames
}

// Len returns the number of frames currently buffered (the length of any
// one channel's queue — by I1 they are all equal outside a critical
// section). Returns 0 for a zero-channel ring.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.channels) == 0 {
		return 0
	}
	return len(r.channels[0])
}

// Reset discards all buffered samples. Used by seek (spec §9) to rebuild a
// Stream's ring at a new position.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.channels {
		r.channels[c] = nil
	}
}
