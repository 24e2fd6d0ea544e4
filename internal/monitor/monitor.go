// Package monitor implements the fixed-capacity circular buffer of
// per-packet reception observations used by ARSTREAM2's monitoring query,
// and the lookback-window aggregation over it.
package monitor

import (
	"math"
	"sync"

	"golang.org/x/xerrors"
)

// Capacity of the ring. ARSTREAM2 keeps the most recent 2048 observations.
const Capacity = 2048

// Point is one observed packet: its local receive time, the media
// timestamp it carried (already converted to microseconds), its sequence
// number, whether it was the last packet of its access unit, and its
// payload byte count.
type Point struct {
	RecvTimeUs int64
	MediaTsUs  int64
	SeqNum     uint16
	Marker     bool
	ByteCount  int
}

// Ring is a fixed-capacity circular buffer of Points, safe for concurrent
// Push/Query from different goroutines (the receive worker and a caller
// invoking GetMonitoring).
type Ring struct {
	mu     sync.Mutex
	points [Capacity]Point
	count  int // number of valid entries, 0..Capacity
	index  int // slot of the most recently pushed point
}

// Push records a new observation, overwriting the oldest entry once the
// ring is full.
func (r *Ring) Push(p Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		r.index = 0
	} else {
		r.index = (r.index + 1) % Capacity
	}
	r.points[r.index] = p
	if r.count < Capacity {
		r.count++
	}
}

// Stats is the result of a Query: any field may be left at its zero value
// when the caller didn't ask for it via the corresponding want* flag.
type Stats struct {
	RealIntervalUs   int64
	JitterUs         float64
	Bytes            int64
	MeanPacketSize   float64
	PacketSizeStdDev float64
	PacketsReceived  int64
	PacketsMissed    int64
}

// Want controls which optional fields of Stats are computed. Bytes, mean
// packet size, and packets received/missed are always cheap to compute in
// the first pass; jitter and packet-size stddev need a second pass.
type Want struct {
	Jitter        bool
	PacketSizeDev bool
}

// Query walks backward from the most recently pushed point, accumulating
// statistics until either timeIntervalUs of real receive time has been
// covered or every stored point has been visited, whichever comes first.
func (r *Ring) Query(timeIntervalUs int64, want Want) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Stats{}, xerrors.New("monitor: ring is empty")
	}
	if timeIntervalUs <= 0 {
		return Stats{}, xerrors.New("monitor: interval must be positive")
	}

	newestTs := r.points[r.index].RecvTimeUs

	var (
		n              int
		bytes          int64
		packets        int64
		missed         int64
		delaySum       float64
		oldestRecvTsUs int64 = newestTs
	)

	idx := r.index
	for i := 0; i < r.count; i++ {
		p := r.points[idx]
		if newestTs-p.RecvTimeUs > timeIntervalUs {
			break
		}

		bytes += int64(p.ByteCount)
		packets++
		delaySum += float64(p.RecvTimeUs - p.MediaTsUs)
		oldestRecvTsUs = p.RecvTimeUs

		if i > 0 {
			// r.points[prevIdx] is the next-newer neighbor of p, i.e. the
			// packet that chronologically followed it.
			prevIdx := (idx + 1) % Capacity
			gap := seqGap(p.SeqNum, r.points[prevIdx].SeqNum)
			if gap > 0 {
				missed += gap
			}
		}

		n++
		idx = (idx - 1 + Capacity) % Capacity
	}

	stats := Stats{
		RealIntervalUs:  newestTs - oldestRecvTsUs,
		Bytes:           bytes,
		PacketsReceived: packets,
		PacketsMissed:   missed,
	}
	if packets > 0 {
		stats.MeanPacketSize = float64(bytes) / float64(packets)
	}

	if want.Jitter || want.PacketSizeDev {
		meanDelay := float64(0)
		if packets > 0 {
			meanDelay = delaySum / float64(packets)
		}

		var jitterAccum, sizeAccum float64
		idx = r.index
		for i := 0; i < n; i++ {
			p := r.points[idx]
			delay := float64(p.RecvTimeUs - p.MediaTsUs)
			d := delay - meanDelay
			jitterAccum += d * d

			sz := float64(p.ByteCount) - stats.MeanPacketSize
			sizeAccum += sz * sz

			idx = (idx - 1 + Capacity) % Capacity
		}
		if packets > 0 {
			if want.Jitter {
				stats.JitterUs = math.Sqrt(jitterAccum / float64(packets))
			}
			if want.PacketSizeDev {
				stats.PacketSizeStdDev = math.Sqrt(sizeAccum / float64(packets))
			}
		}
	}

	return stats, nil
}

// seqGap returns the number of missing sequence numbers between prev and
// cur (mod 2^16), or 0 if cur does not follow prev.
func seqGap(prev, cur uint16) int64 {
	delta := int16(cur - prev)
	if delta <= 0 {
		return 0
	}
	return int64(delta) - 1
}
