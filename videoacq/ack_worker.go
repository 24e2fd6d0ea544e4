package videoacq

import "time"

// RunAckWorker is the entry point for the ack-sending worker. It loops at
// approximately 1kHz, snapshotting the in-progress ack packet under the ack
// mutex and handing it to the network manager (spec §4.3).
func RunAckWorker(r *Reader) {
	r.setAckStarted(true)
	defer r.setAckStarted(false)

	for !r.isStopped() {
		time.Sleep(ackInterval)

		pkt := r.snapshotAck()
		if err := r.manager.Send(r.ackBufferID, pkt.marshal()); err != nil {
			// Send-completion failures are logged and swallowed; the next
			// tick will send a fresher snapshot regardless.
			log.Debug("ack send: %v", err)
		}
	}
}

func (r *Reader) snapshotAck() AckPacket {
	r.ackMu.Lock()
	defer r.ackMu.Unlock()

	return AckPacket{
		NumFrame:       r.ack.NumFrame,
		LowPacketsAck:  r.bits.Low(),
		HighPacketsAck: r.bits.High(),
	}
}
