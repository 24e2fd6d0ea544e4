package videoacq

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

var errNoData = errors.New("videoacq test: no datagram available")

// fakeManager is an in-memory stand-in for the external NetworkManager.
// Queued datagrams are delivered one per Read call; once drained, Read
// waits a short interval and reports a (non-fatal) timeout, mirroring the
// real 1-second read timeout without slowing tests down.
type fakeManager struct {
	mu   sync.Mutex
	pkts [][]byte
	idx  int

	sent [][]byte
}

func (m *fakeManager) Read(bufferID int, buf []byte, timeout time.Duration) (int, error) {
	m.mu.Lock()
	if m.idx < len(m.pkts) {
		d := m.pkts[m.idx]
		m.idx++
		m.mu.Unlock()
		return copy(buf, d), nil
	}
	m.mu.Unlock()

	time.Sleep(time.Millisecond)
	return 0, errNoData
}

func (m *fakeManager) Send(bufferID int, buf []byte) error {
	cp := append([]byte(nil), buf...)
	m.mu.Lock()
	m.sent = append(m.sent, cp)
	m.mu.Unlock()
	return nil
}

func buildFragment(frameNumber uint16, fragmentNumber, fragmentsPerFrame uint8, payload []byte) []byte {
	buf := make([]byte, dataHeaderSize+len(payload))
	writeDataHeader(buf, DataHeader{
		FrameNumber:       frameNumber,
		FragmentNumber:    fragmentNumber,
		FragmentsPerFrame: fragmentsPerFrame,
	})
	copy(buf[dataHeaderSize:], payload)
	return buf
}

// collectingCallback records every FrameComplete event on a channel and
// always keeps cycling through a single large backing buffer, large enough
// that FrameTooSmall never fires in the happy-path scenarios.
func collectingCallback(bufSize int) (Callback, chan Event) {
	events := make(chan Event, 16)
	backing := make([]byte, bufSize)
	cb := func(e Event) Buffer {
		switch e.Cause {
		case FrameComplete:
			events <- e
			return Buffer{Ptr: backing, Capacity: len(backing)}
		case FrameTooSmall:
			return Buffer{Ptr: backing, Capacity: len(backing)}
		case CopyComplete, Cancel:
			return Buffer{}
		}
		return Buffer{}
	}
	return cb, events
}

func runDataWorkerForTest(t *testing.T, r *Reader) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		RunDataWorker(r)
		close(done)
	}()
	return func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("data worker did not stop in time")
		}
	}
}

func waitEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FRAME_COMPLETE")
		return Event{}
	}
}

// S1: frames 0..2, each 3 fragments of 1000 bytes (last 500). Expect three
// FRAME_COMPLETE events, sizes 2500/2500/2500, missed 0/0/0.
func TestScenarioS1HappyPath(t *testing.T) {
	mgr := &fakeManager{}
	for frame := uint16(0); frame < 3; frame++ {
		mgr.pkts = append(mgr.pkts,
			buildFragment(frame, 0, 3, bytes.Repeat([]byte{1}, 1000)),
			buildFragment(frame, 1, 3, bytes.Repeat([]byte{2}, 1000)),
			buildFragment(frame, 2, 3, bytes.Repeat([]byte{3}, 500)),
		)
	}

	cb, events := collectingCallback(4096)
	r, err := New(mgr, 1, 2, cb, make([]byte, 4096), 4096)
	if err != nil {
		t.Fatal(err)
	}

	stop := runDataWorkerForTest(t, r)
	defer stop()

	for frame := uint16(0); frame < 3; frame++ {
		e := waitEvent(t, events)
		if e.FrameNumber != frame {
			t.Errorf("frame %d: got FrameNumber %d", frame, e.FrameNumber)
		}
		if e.Buffer.Size != 2500 {
			t.Errorf("frame %d: got size %d, want 2500", frame, e.Buffer.Size)
		}
		if e.MissedFrames != 0 {
			t.Errorf("frame %d: got missed %d, want 0", frame, e.MissedFrames)
		}
	}
}

// S2: fragments arrive f0 f2 f1 (reordered) for a single 3-fragment frame.
// Expect exactly one FRAME_COMPLETE with missed=0.
func TestScenarioS2Reorder(t *testing.T) {
	mgr := &fakeManager{
		pkts: [][]byte{
			buildFragment(0, 0, 3, bytes.Repeat([]byte{1}, 1000)),
			buildFragment(0, 2, 3, bytes.Repeat([]byte{3}, 500)),
			buildFragment(0, 1, 3, bytes.Repeat([]byte{2}, 1000)),
		},
	}

	cb, events := collectingCallback(4096)
	r, err := New(mgr, 1, 2, cb, make([]byte, 4096), 4096)
	if err != nil {
		t.Fatal(err)
	}

	stop := runDataWorkerForTest(t, r)
	defer stop()

	e := waitEvent(t, events)
	if e.MissedFrames != 0 {
		t.Errorf("got missed %d, want 0", e.MissedFrames)
	}
	if e.Buffer.Size != 2500 {
		t.Errorf("got size %d, want 2500", e.Buffer.Size)
	}

	select {
	case extra := <-events:
		t.Fatalf("unexpected extra FRAME_COMPLETE: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

// S3: frames 0 and 2 arrive; frame 1 is entirely lost. Expect
// FRAME_COMPLETE for 0 (missed=0) then 2 (missed=1).
func TestScenarioS3DroppedFrame(t *testing.T) {
	mgr := &fakeManager{
		pkts: [][]byte{
			buildFragment(0, 0, 2, bytes.Repeat([]byte{1}, 1000)),
			buildFragment(0, 1, 2, bytes.Repeat([]byte{2}, 500)),
			buildFragment(2, 0, 2, bytes.Repeat([]byte{3}, 1000)),
			buildFragment(2, 1, 2, bytes.Repeat([]byte{4}, 500)),
		},
	}

	cb, events := collectingCallback(4096)
	r, err := New(mgr, 1, 2, cb, make([]byte, 4096), 4096)
	if err != nil {
		t.Fatal(err)
	}

	stop := runDataWorkerForTest(t, r)
	defer stop()

	e0 := waitEvent(t, events)
	if e0.FrameNumber != 0 || e0.MissedFrames != 0 {
		t.Errorf("frame 0: got number=%d missed=%d", e0.FrameNumber, e0.MissedFrames)
	}

	e2 := waitEvent(t, events)
	if e2.FrameNumber != 2 || e2.MissedFrames != 1 {
		t.Errorf("frame 2: got number=%d missed=%d, want number=2 missed=1", e2.FrameNumber, e2.MissedFrames)
	}
}

// At-most-once completion: duplicate fragments for an already-completed
// frame must not re-trigger FRAME_COMPLETE.
func TestAtMostOnceCompletion(t *testing.T) {
	mgr := &fakeManager{
		pkts: [][]byte{
			buildFragment(0, 0, 1, []byte{1}),
			buildFragment(0, 0, 1, []byte{1}), // duplicate of the only fragment
			buildFragment(0, 0, 1, []byte{1}),
		},
	}

	cb, events := collectingCallback(64)
	r, err := New(mgr, 1, 2, cb, make([]byte, 64), 64)
	if err != nil {
		t.Fatal(err)
	}

	stop := runDataWorkerForTest(t, r)
	defer stop()

	waitEvent(t, events)

	select {
	case extra := <-events:
		t.Fatalf("unexpected extra FRAME_COMPLETE: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

// A callback that refuses growth (returns a null/zero-capacity buffer)
// must not crash the worker; it stalls writes for that frame instead.
func TestFrameTooSmallRefusedDoesNotPanic(t *testing.T) {
	mgr := &fakeManager{
		pkts: [][]byte{
			buildFragment(0, 0, 2, bytes.Repeat([]byte{1}, 1000)),
			buildFragment(0, 1, 2, bytes.Repeat([]byte{2}, 500)),
		},
	}

	var called int
	cb := func(e Event) Buffer {
		if e.Cause == FrameTooSmall {
			called++
		}
		return Buffer{} // always refuse
	}

	r, err := New(mgr, 1, 2, cb, nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	stop := runDataWorkerForTest(t, r)

	// Let the worker pull both datagrams before stopping it; it finishes
	// processing a datagram before it next checks Stop.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mgr.mu.Lock()
		drained := mgr.idx == len(mgr.pkts)
		mgr.mu.Unlock()
		if drained || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	stop()

	if called == 0 {
		t.Fatal("expected at least one FRAME_TOO_SMALL callback")
	}
}

// Teardown: Delete returns ErrBusy until Stop has been observed by the data
// worker, then succeeds; a second Delete call returns ErrBadParameters.
func TestTeardownBusyThenDeleted(t *testing.T) {
	mgr := &fakeManager{}
	cb, _ := collectingCallback(64)
	r, err := New(mgr, 1, 2, cb, make([]byte, 64), 64)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		RunDataWorker(r)
		close(done)
	}()

	// Give the worker a moment to set its started flag.
	time.Sleep(10 * time.Millisecond)

	if err := Delete(&r); !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}

	r.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("data worker did not stop in time")
	}

	if err := Delete(&r); err != nil {
		t.Fatalf("Delete after stop: %v", err)
	}
	if r != nil {
		t.Fatal("expected Delete to clear the reader handle")
	}

	if err := Delete(&r); !errors.Is(err, ErrBadParameters) {
		t.Fatalf("second Delete: got %v, want ErrBadParameters", err)
	}
}
