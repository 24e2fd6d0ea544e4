package videoreader

import "github.com/ARDroneSDK3/libARStream/internal/packet"

// H.264 NAL unit types relevant to depacketization, per RFC 6184 §5.2.
const (
	naluTypeSTAPA = 24
	naluTypeFUA   = 28
)

// startCode is the 4-byte Annex B sentinel prepended to NAL units when the
// reader is configured to insert start codes.
var startCode = [4]byte{0x00, 0x00, 0x00, 0x01}

// assembler holds the NAL-unit assembly state machine's mutable state. It
// is only ever touched by the receive worker goroutine.
type assembler struct {
	buf Buffer

	insertStartCodes bool

	fuPending bool

	haveSeq bool
	seq     uint16 // most recently accepted (in-order) sequence number

	newAU      bool   // true if the next accepted packet starts a new AU
	auStartSeq uint16 // seqNum of the packet that started the current AU

	gapsInSeq int

	haveTs   bool
	prevTsUs int64
}

func newAssembler(insertStartCodes bool, buf Buffer) *assembler {
	return &assembler{buf: buf, insertStartCodes: insertStartCodes, newAU: true}
}

// splitSTAPA splits a STAP-A aggregate payload (after its 1-byte STAP-A
// header) into individual 2-byte-size-prefixed NAL units. Grounded on the
// teacher's splitSTAP helper for the sender-side equivalent.
func splitSTAPA(payload []byte) ([][]byte, error) {
	var nalus [][]byte
	r := packet.NewReader(payload)
	r.Skip(1) // STAP-A indicator byte
	for r.Remaining() > 0 {
		if err := r.CheckRemaining(2); err != nil {
			return nil, err
		}
		n := int(r.ReadUint16())
		if err := r.CheckRemaining(n); err != nil {
			return nil, err
		}
		nalus = append(nalus, r.ReadSlice(n))
	}
	return nalus, nil
}

// ensureCapacity grows a.buf to hold at least needed more bytes, via the
// NALUBufferTooSmall/NALUCopyComplete callback dance (spec §4.5 "Buffer
// growth"). It reports whether the buffer is now large enough to proceed.
func (a *assembler) ensureCapacity(needed int, cb Callback) bool {
	if a.buf.Size+needed <= a.buf.Capacity {
		return true
	}

	old := a.buf
	next := cb(Event{Cause: NALUBufferTooSmall, RequestedSize: old.Size + needed})
	if next.Capacity < old.Size+needed {
		// Not enough room even after growth; keep the current buffer and
		// report failure so this write is skipped.
		return false
	}

	copy(next.Ptr[:old.Size], old.Ptr[:old.Size])
	next.Size = old.Size
	cb(Event{Cause: NALUCopyComplete, Buffer: old})
	a.buf = next
	return true
}

// appendBytes appends p to a.buf if capacity allows (growing it first if
// necessary); otherwise the write is silently dropped for this packet.
func (a *assembler) appendBytes(p []byte, cb Callback) {
	if !a.ensureCapacity(len(p), cb) {
		return
	}
	n := copy(a.buf.Ptr[a.buf.Size:a.buf.Size+len(p)], p)
	a.buf.Size += n
}

// adopt replaces a.buf with next, the buffer a NALUComplete callback just
// returned (spec §4.5/§4.7: "the callback returns the next buffer to
// use"), unless the consumer declined by returning a zero-capacity
// buffer, in which case the current buffer is kept as-is. Without this,
// the following resetNALU would zero Size on the very buffer just handed
// off to the consumer instead of on the fresh one it returned.
func (a *assembler) adopt(next Buffer) {
	if next.Capacity > 0 {
		a.buf = next
	}
}

// resetNALU starts a fresh NAL unit, optionally writing the 4-byte start
// code first.
func (a *assembler) resetNALU(cb Callback) {
	a.buf.Size = 0
	if a.insertStartCodes {
		a.appendBytes(startCode[:], cb)
	}
}

// handlePacket processes one datagram payload (the bytes after the
// 12-byte header) and returns the NALUComplete event to emit, if any.
// Intermediate NALUs inside a STAP-A aggregate are pushed through cb
// directly rather than returned, since only the last one maps onto the
// normal per-packet (Event, bool) result.
func (a *assembler) handlePacket(h header, payload []byte, cb Callback) (Event, bool) {
	if !a.haveSeq {
		a.haveSeq = true
		a.seq = h.seqNum
	} else {
		delta := int16(h.seqNum - a.seq)
		if delta <= 0 {
			// Out of order; drop without updating state.
			return Event{}, false
		}
		a.gapsInSeq += int(delta) - 1
		a.seq = h.seqNum
	}

	if a.newAU {
		a.auStartSeq = a.seq
		a.newAU = false
	}
	isFirstOfAU := a.seq == a.auStartSeq

	mediaTsUs := timestampToMicros(h.timestamp)
	if a.haveTs && mediaTsUs != a.prevTsUs && a.gapsInSeq > 0 {
		// The previous access unit had gaps; §9's reserved AU-incomplete
		// upcall fires here. No consumer is required to act on it.
		cb(Event{Cause: AUIncomplete, GapsInSeqNum: a.gapsInSeq})
	}
	a.haveTs = true
	a.prevTsUs = mediaTsUs

	var ev Event
	var complete bool

	if len(payload) > 0 {
		naluType := payload[0] & 0x1f
		switch naluType {
		case naluTypeFUA:
			ev, complete = a.handleFUA(payload, mediaTsUs, h.marker, isFirstOfAU, cb)
		case naluTypeSTAPA:
			a.fuPending = false
			ev, complete = a.handleSTAPA(payload, mediaTsUs, h.marker, isFirstOfAU, cb)
		default:
			a.fuPending = false
			ev, complete = a.handleSingleNALU(payload, mediaTsUs, h.marker, isFirstOfAU, cb)
		}
	}

	if h.marker {
		a.gapsInSeq = 0
		a.newAU = true
	}

	return ev, complete
}

func (a *assembler) handleFUA(payload []byte, mediaTsUs int64, marker, isFirstOfAU bool, cb Callback) (Event, bool) {
	if len(payload) < 2 {
		return Event{}, false
	}
	indicator := payload[0]
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0

	if start {
		// A new FU-A start abandons any pending one.
		a.fuPending = false
		a.resetNALU(cb)
		naluByte := (indicator & 0xe0) | (fuHeader & 0x1f)
		a.appendBytes([]byte{naluByte}, cb)
		a.fuPending = true
	}

	if !a.fuPending {
		return Event{}, false
	}

	a.appendBytes(payload[2:], cb)

	if end {
		a.fuPending = false
		return a.completeEvent(mediaTsUs, marker, isFirstOfAU), true
	}
	return Event{}, false
}

func (a *assembler) handleSTAPA(payload []byte, mediaTsUs int64, marker, isFirstOfAU bool, cb Callback) (Event, bool) {
	nalus, err := splitSTAPA(payload)
	if err != nil || len(nalus) == 0 {
		return Event{}, false
	}

	for _, nalu := range nalus[:len(nalus)-1] {
		a.resetNALU(cb)
		a.appendBytes(nalu, cb)
		a.adopt(cb(a.completeEvent(mediaTsUs, false, isFirstOfAU)))
	}

	last := nalus[len(nalus)-1]
	a.resetNALU(cb)
	a.appendBytes(last, cb)
	return a.completeEvent(mediaTsUs, marker, isFirstOfAU), true
}

func (a *assembler) handleSingleNALU(payload []byte, mediaTsUs int64, marker, isFirstOfAU bool, cb Callback) (Event, bool) {
	a.resetNALU(cb)
	a.appendBytes(payload, cb)
	return a.completeEvent(mediaTsUs, marker, isFirstOfAU), true
}

func (a *assembler) completeEvent(mediaTsUs int64, marker, isFirstOfAU bool) Event {
	return Event{
		Cause:            NALUComplete,
		MediaTimestampUs: mediaTsUs,
		IsFirstOfAU:      isFirstOfAU,
		IsLastOfAU:       marker,
		GapsInSeqNum:     a.gapsInSeq,
		Buffer:           Buffer{Ptr: a.buf.Ptr, Capacity: a.buf.Capacity, Size: a.buf.Size},
	}
}
