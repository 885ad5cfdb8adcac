package monitor

import "testing"

type fakeDevice struct {
	pauses, resumes int
}

func (d *fakeDevice) Pause() error  { d.pauses++; return nil }
func (d *fakeDevice) Resume() error { d.resumes++; return nil }

func TestTickPausesOnUnderrun(t *testing.T) {
	dev := &fakeDevice{}
	src := Source{
		RemainSec:           func() float64 { return 0.0 },
		RemainingContentSec: func() float64 { return 30.0 },
	}
	stopCh := make(chan struct{}, 1)
	m := New(dev, src, stopCh)

	done := m.tick()
	if done {
		t.Error("tick() = true, want false (not yet at end of content)")
	}
	if dev.pauses != 1 {
		t.Errorf("pauses = %d, want 1", dev.pauses)
	}

	// A second tick while still underrun should not pause again.
	m.tick()
	if dev.pauses != 1 {
		t.Errorf("pauses after second tick = %d, want 1 (idempotent)", dev.pauses)
	}
}

func TestTickResumesWhenRingRefills(t *testing.T) {
	dev := &fakeDevice{}
	remain := 0.0
	src := Source{
		RemainSec:           func() float64 { return remain },
		RemainingContentSec: func() float64 { return 30.0 },
	}
	stopCh := make(chan struct{}, 1)
	m := New(dev, src, stopCh)

	m.tick()
	if dev.pauses != 1 {
		t.Fatalf("pauses = %d, want 1", dev.pauses)
	}

	remain = 5.0
	m.tick()
	if dev.resumes != 1 {
		t.Errorf("resumes = %d, want 1", dev.resumes)
	}
}

func TestTickSignalsStopAtEndOfContent(t *testing.T) {
	dev := &fakeDevice{}
	src := Source{
		RemainSec:           func() float64 { return 0.0 },
		RemainingContentSec: func() float64 { return 0.1 },
	}
	stopCh := make(chan struct{}, 1)
	m := New(dev, src, stopCh)

	if done := m.tick(); !done {
		t.Fatal("tick() = false, want true at end of content")
	}

	select {
	case <-stopCh:
	default:
		t.Error("expected a stop signal on stopCh")
	}
}

func TestTickDoesNotBlockOnFullStopChannel(t *testing.T) {
	dev := &fakeDevice{}
	src := Source{
		RemainSec:           func() float64 { return 0.0 },
		RemainingContentSec: func() float64 { return 0.1 },
	}
	stopCh := make(chan struct{}, 1)
	stopCh <- struct{}{} // pre-fill so the monitor's send would block

	m := New(dev, src, stopCh)
	done := m.tick()
	if !done {
		t.Error("tick() = false, want true even when the stop channel is full")
	}
}
