// Package videoreader implements ARSTREAM2, the RTP-style H.264
// depacketization receive engine: it listens on a raw UDP socket (unicast
// or multicast), reassembles access units from single-NALU, FU-A, and
// STAP-A packets, and maintains a rolling window of reception statistics.
package videoreader

import (
	"net"
	"sync"

	"github.com/ARDroneSDK3/libARStream/internal/logging"
	"github.com/ARDroneSDK3/libARStream/internal/monitor"
)

var log = logging.DefaultLogger.WithTag("videoreader")

// Config holds everything needed to bind and run a Reader, supplied once
// at construction (spec §4.1).
type Config struct {
	// RecvAddr, if set, is the address the reader listens on: a multicast
	// group address (224.0.0.0-239.255.255.255) to join, or empty/unicast
	// to just bind RecvPort on all interfaces.
	RecvAddr string

	// IfaceAddr selects the local interface used for the multicast group
	// join. Ignored for unicast.
	IfaceAddr string

	RecvPort int

	// RecvTimeoutSec bounds how long the caller considers the feed alive
	// without a packet before treating it as stalled. Must be positive.
	RecvTimeoutSec int

	// MaxPacketSize bounds the per-datagram receive buffer. 0 defaults to
	// defaultMaxPacketSize.
	MaxPacketSize int

	InsertStartCodes bool

	NALUCallback Callback

	// UserToken is an opaque value handed back unchanged by GetCustom.
	UserToken interface{}
}

// Reader reassembles one ARSTREAM2 video feed. It owns a receive worker
// and (per spec §9's open question about a symmetric send side) a no-op
// send worker, meant to be run on their own goroutines via RunRecvWorker
// and RunSendWorker.
type Reader struct {
	cfg Config

	// streamMu guards the socket and assembler, per spec §3's stream-state
	// lock, distinct from the monitoring lock below. In practice these are
	// only touched by the receive-worker goroutine once running; the lock
	// mainly serializes that startup against a concurrent Stop.
	streamMu sync.Mutex
	conn     *net.UDPConn
	asm      *assembler

	// monitor.Ring is internally synchronized, so it can be shared between
	// the receive worker (Push) and GetMonitoring (Query) without a
	// separate lock here; it plays the role of spec §3's monitoring mutex.
	ring monitor.Ring

	stateMu     sync.Mutex
	recvStarted bool
	sendStarted bool
	stopped     bool
	deleted     bool
}

// New constructs a Reader from cfg. The socket is not bound until
// RunRecvWorker runs.
func New(cfg Config, buf []byte, bufCap int) (*Reader, error) {
	if cfg.RecvPort <= 0 || cfg.RecvTimeoutSec <= 0 || cfg.NALUCallback == nil || bufCap < 0 || bufCap > len(buf) {
		return nil, ErrBadParameters
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}

	r := &Reader{
		cfg: cfg,
		asm: newAssembler(cfg.InsertStartCodes, Buffer{Ptr: buf, Capacity: bufCap}),
	}
	return r, nil
}

// Stop requests that both workers exit. Idempotent; does not block. It
// also closes the socket, if bound, to unblock a worker parked in a read.
func (r *Reader) Stop() {
	r.stateMu.Lock()
	r.stopped = true
	r.stateMu.Unlock()

	r.streamMu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.streamMu.Unlock()
}

func (r *Reader) isStopped() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.stopped
}

// Delete tears down the reader, failing with ErrBusy unless both workers
// have observed Stop and exited, and ErrBadParameters if called twice.
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
	if reader.recvStarted || reader.sendStarted {
		return ErrBusy
	}

	reader.deleted = true
	*r = nil
	return nil
}

func (r *Reader) setRecvStarted(v bool) {
	r.stateMu.Lock()
	r.recvStarted = v
	r.stateMu.Unlock()
}

func (r *Reader) setSendStarted(v bool) {
	r.stateMu.Lock()
	r.sendStarted = v
	r.stateMu.Unlock()
}

// GetMonitoring reports reception statistics over the last timeIntervalUs
// of real receive time (spec §4.6).
func (r *Reader) GetMonitoring(timeIntervalUs int64) (monitor.Stats, error) {
	return r.ring.Query(timeIntervalUs, monitor.Want{Jitter: true, PacketSizeDev: true})
}

// GetCustom returns the UserToken passed to New via Config, mirroring the
// opaque-pointer pattern used throughout the consumer-facing APIs here.
func (r *Reader) GetCustom() interface{} {
	return r.cfg.UserToken
}
