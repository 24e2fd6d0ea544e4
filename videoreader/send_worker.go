package videoreader

import "time"

// sendWorkerIdle is how often RunSendWorker wakes up to recheck Stop.
const sendWorkerIdle = 100 * time.Millisecond

// RunSendWorker is a placeholder for a symmetric transmit-side worker.
// The source this engine is modeled on never implements one (spec §9,
// open question): there is no sender-side flow control or retransmission
// request channel on this path. It exists only so callers that spawn a
// fixed pair of worker goroutines per Reader, mirroring videoacq's data
// and ack workers, have something to start and still get the same
// Stop/Delete busy semantics out of the started-flag bookkeeping.
func RunSendWorker(r *Reader) {
	r.setSendStarted(true)
	defer r.setSendStarted(false)

	for !r.isStopped() {
		time.Sleep(sendWorkerIdle)
	}
}
