package videoreader

import (
	"net"
	"time"

	"github.com/ARDroneSDK3/libARStream/internal/monitor"
)

// recvTimeout bounds how long a single ReadFromUDP call blocks, standing
// in for the C implementation's select() timeout ahead of each recv.
const recvTimeout = 500 * time.Millisecond

// RunRecvWorker is the entry point for the receive worker. It binds the
// socket, then loops reading datagrams and driving the NAL-unit assembler
// until Stop is observed. Meant to be run on its own goroutine.
func RunRecvWorker(r *Reader) {
	r.setRecvStarted(true)
	defer r.setRecvStarted(false)

	conn, err := bindSocket(r.cfg)
	if err != nil {
		log.Error("bind: %v", err)
		return
	}

	r.streamMu.Lock()
	if r.isStopped() {
		r.streamMu.Unlock()
		conn.Close()
		return
	}
	r.conn = conn
	r.streamMu.Unlock()

	defer func() {
		r.streamMu.Lock()
		if r.conn != nil {
			r.conn.Close()
			r.conn = nil
		}
		r.streamMu.Unlock()
	}()

	recvBuf := make([]byte, r.cfg.MaxPacketSize)

	for !r.isStopped() {
		setReadDeadline(conn, recvTimeout)
		n, _, err := conn.ReadFromUDP(recvBuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if r.isStopped() {
				break
			}
			log.Debug("recv: %v", err)
			continue
		}
		if n < headerSize {
			log.Debug("recv: short datagram (%d bytes)", n)
			continue
		}

		h, err := parseHeader(recvBuf[:n])
		if err != nil {
			log.Debug("recv: %v", err)
			continue
		}
		payload := recvBuf[headerSize:n]

		r.ring.Push(monitor.Point{
			RecvTimeUs: time.Now().UnixMicro(),
			MediaTsUs:  timestampToMicros(h.timestamp),
			SeqNum:     h.seqNum,
			Marker:     h.marker,
			ByteCount:  len(payload),
		})

		if ev, ok := r.asm.handlePacket(h, payload, r.cfg.NALUCallback); ok {
			r.asm.adopt(r.cfg.NALUCallback(ev))
		}
	}

	r.cfg.NALUCallback(Event{Cause: Cancel, Buffer: r.asm.buf})
}
