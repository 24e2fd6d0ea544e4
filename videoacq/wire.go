package videoacq

import (
	"encoding/binary"

	"github.com/ARDroneSDK3/libARStream/internal/packet"
)

// FragmentSize is the number of payload bytes carried by every fragment of
// a frame except (possibly) the last one. It mirrors the sender's fixed
// chopping size.
const FragmentSize = 1000

// dataHeaderSize is the wire size of DataHeader: a 16-bit frame number, an
// 8-bit fragment number, and an 8-bit fragment count.
const dataHeaderSize = 4

// MaxFragmentsPerFrame bounds fragmentsPerFrame: the ack bitmap is 128 bits
// wide, so no frame can have more than 128 fragments.
const MaxFragmentsPerFrame = 128

// DataHeader is the fixed 4-byte, network-byte-order header prefixing every
// data fragment.
type DataHeader struct {
	FrameNumber       uint16
	FragmentNumber    uint8
	FragmentsPerFrame uint8
}

// readDataHeader parses a DataHeader from the front of buf. buf must be at
// least dataHeaderSize bytes.
func readDataHeader(buf []byte) (DataHeader, error) {
	var h DataHeader
	r := packet.NewReader(buf)
	if err := r.CheckRemaining(dataHeaderSize); err != nil {
		return h, err
	}
	h.FrameNumber = r.ReadUint16()
	h.FragmentNumber = r.ReadByte()
	h.FragmentsPerFrame = r.ReadByte()
	return h, nil
}

func writeDataHeader(buf []byte, h DataHeader) {
	w := packet.NewWriter(buf)
	w.WriteUint16(h.FrameNumber)
	w.WriteByte(h.FragmentNumber)
	w.WriteByte(h.FragmentsPerFrame)
}

// ackPacketSize is the wire size of AckPacket: a 32-bit frame number and two
// 64-bit bitmap halves, all little-endian (a quirk of the original sender,
// preserved bit-exactly here).
const ackPacketSize = 4 + 8 + 8

// AckPacket is the fixed 20-byte, little-endian acknowledgement packet sent
// back to the sender once per ack-worker tick.
type AckPacket struct {
	NumFrame       uint32
	HighPacketsAck uint64 // fragments 64..127
	LowPacketsAck  uint64 // fragments 0..63
}

// marshal serializes p into a fresh 20-byte little-endian buffer.
func (p AckPacket) marshal() []byte {
	buf := make([]byte, ackPacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.NumFrame)
	binary.LittleEndian.PutUint64(buf[4:12], p.HighPacketsAck)
	binary.LittleEndian.PutUint64(buf[12:20], p.LowPacketsAck)
	return buf
}
