// Package videoacq implements ARSTREAM, the acknowledged-fragmented-stream
// receive engine: it reassembles frames chopped into fixed-size fragments
// and tagged with a per-frame bitmap, continuously reporting the bitmap
// back to the sender over an externally-supplied network manager.
package videoacq

import (
	"sync"
	"time"

	"github.com/ARDroneSDK3/libARStream/internal/bitmap"
	"github.com/ARDroneSDK3/libARStream/internal/logging"
)

var log = logging.DefaultLogger.WithTag("videoacq")

// readTimeout bounds how long the data worker blocks in a single Read call,
// per spec §4.2 and §5.
const readTimeout = 1 * time.Second

// ackInterval is the approximate period of the ack worker's send loop
// (spec §4.3: "loops at approximately 1 kHz").
const ackInterval = 1 * time.Millisecond

// Reader reassembles one ARSTREAM video feed. It owns a data worker and an
// ack worker, meant to be run on their own goroutines via RunDataWorker and
// RunAckWorker.
type Reader struct {
	manager      NetworkManager
	dataBufferID int
	ackBufferID  int
	callback     Callback

	// Reassembly buffer and per-frame bookkeeping. Touched only by the data
	// worker; the callback runs synchronously on that same goroutine, so no
	// additional synchronization is needed for these fields.
	buf              Buffer
	skipCurrentFrame bool
	havePrevious     bool
	previousFrame    uint16
	lastCompleted    uint16
	haveLastComplete bool

	// recvBuf is the scratch datagram buffer for the data worker.
	recvBuf []byte

	// ackMu guards the in-progress ack packet and bitmap, shared between
	// the data worker (writer) and the ack worker (reader).
	ackMu           sync.Mutex
	ack             AckPacket
	bits            bitmap.Bitmap
	frameInProgress bool
	fragmentCount   uint8

	// stateMu guards the lifecycle flags, polled once per worker iteration.
	stateMu     sync.Mutex
	dataStarted bool
	ackStarted  bool
	stopped     bool
	deleted     bool
}

// New constructs a Reader bound to the given network manager and buffer
// IDs. buf/bufCap is the initial reassembly buffer, owned by the caller.
// callback must be non-nil; it is invoked synchronously from the worker
// goroutines.
func New(manager NetworkManager, dataBufferID, ackBufferID int, callback Callback, buf []byte, bufCap int) (*Reader, error) {
	if manager == nil || callback == nil || bufCap < 0 || bufCap > len(buf) {
		return nil, ErrBadParameters
	}

	r := &Reader{
		manager:      manager,
		dataBufferID: dataBufferID,
		ackBufferID:  ackBufferID,
		callback:     callback,
		buf:          Buffer{Ptr: buf, Capacity: bufCap},
		recvBuf:      make([]byte, FragmentSize+dataHeaderSize),
	}
	r.previousFrame = 0xFFFF // UINT16_MAX, per spec §9.
	return r, nil
}

// Stop requests that both workers exit. It is idempotent and returns
// immediately; it does not wait for the workers to observe the request.
func (r *Reader) Stop() {
	r.stateMu.Lock()
	r.stopped = true
	r.stateMu.Unlock()
}

func (r *Reader) isStopped() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.stopped
}

// Delete tears down the reader. It fails with ErrBusy unless both workers
// have already observed Stop and exited (their started flags clear), and
// fails with ErrBadParameters if called more than once.
func Delete(r **Reader) error {
	if r == nil || *r == nil {
		return ErrBadParameters
	}
	reader := *r

	reader.stateMu.Lock()
	defer reader.stateMu.Unlock()

	if reader.deleted {
		return ErrBadParameters
	}
	if reader.dataStarted || reader.ackStarted {
		return ErrBusy
	}

	reader.deleted = true
	*r = nil
	return nil
}

func (r *Reader) setDataStarted(v bool) {
	r.stateMu.Lock()
	r.dataStarted = v
	r.stateMu.Unlock()
}

func (r *Reader) setAckStarted(v bool) {
	r.stateMu.Lock()
	r.ackStarted = v
	r.stateMu.Unlock()
}
