package videoreader

import (
	"github.com/ARDroneSDK3/libARStream/internal/packet"
)

// headerSize is the fixed 12-byte size of the RTP-like header prefixing
// every datagram.
const headerSize = 12

// markerBit is bit position 7 of the low byte of the 16-bit flags field:
// "last packet of access unit".
const markerBit = 0x80

// header is the 12-byte, big-endian RTP-like framing used by ARSTREAM2.
type header struct {
	marker    bool
	seqNum    uint16
	timestamp uint32 // 90kHz clock
}

// parseHeader reads a header from the front of buf. buf must be at least
// headerSize bytes.
func parseHeader(buf []byte) (header, error) {
	var h header
	r := packet.NewReader(buf)
	if err := r.CheckRemaining(headerSize); err != nil {
		return h, err
	}

	flags := r.ReadUint16()
	h.marker = flags&markerBit != 0
	h.seqNum = r.ReadUint16()
	h.timestamp = r.ReadUint32()
	// 4 reserved bytes follow to pad the header to 12 bytes.
	r.Skip(4)

	return h, nil
}

// timestampToMicros converts a 90kHz RTP-style timestamp to microseconds,
// per spec §3: (ts*1000+45)/90.
func timestampToMicros(ts uint32) int64 {
	return (int64(ts)*1000 + 45) / 90
}
