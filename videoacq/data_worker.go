package videoacq

// RunDataWorker is the entry point for the data-receiving worker. It is
// meant to be run on its own goroutine (or spawned as a native thread by an
// external scheduler, per spec §6); it returns once Stop has been observed.
func RunDataWorker(r *Reader) {
	r.setDataStarted(true)
	defer r.setDataStarted(false)

	for !r.isStopped() {
		n, err := r.manager.Read(r.dataBufferID, r.recvBuf, readTimeout)
		if err != nil {
			// Transient per-packet errors (including timeouts) are logged
			// and swallowed; reassembly continues on the next datagram.
			log.Debug("data read: %v", err)
			continue
		}
		if n < dataHeaderSize {
			log.Debug("data read: short datagram (%d bytes)", n)
			continue
		}

		header, err := readDataHeader(r.recvBuf[:n])
		if err != nil {
			log.Debug("data read: %v", err)
			continue
		}
		payload := r.recvBuf[dataHeaderSize:n]

		missed, frameNumber, complete := r.recordFragment(header)

		r.writeFragment(header, payload)

		if complete {
			old := r.buf
			next := r.callback(Event{
				Cause:        FrameComplete,
				FrameNumber:  frameNumber,
				MissedFrames: missed,
				Buffer:       Buffer{Ptr: old.Ptr, Capacity: old.Capacity, Size: old.Size},
			})
			r.buf = next
		}
	}

	r.recvBuf = nil
	r.callback(Event{Cause: Cancel, Buffer: r.buf})
}

// recordFragment updates the ack bitmap and frame-tracking state for a
// newly arrived fragment, under the ack mutex (spec §4.2 steps 3 and 7). It
// reports whether the frame is now complete, and if so the frame number and
// the computed missed-frame count.
func (r *Reader) recordFragment(header DataHeader) (missed uint16, frameNumber uint16, complete bool) {
	r.ackMu.Lock()
	defer r.ackMu.Unlock()

	if !r.frameInProgress || header.FrameNumber != uint16(r.ack.NumFrame) {
		r.buf.Size = 0
		r.ack.NumFrame = uint32(header.FrameNumber)
		r.bits.Reset()
		r.skipCurrentFrame = false
		r.frameInProgress = true
		r.fragmentCount = header.FragmentsPerFrame
	}
	r.bits.SetFlag(int(header.FragmentNumber))

	frameNumber = header.FrameNumber
	if r.bits.AllSet(int(r.fragmentCount)) && (!r.haveLastComplete || frameNumber != r.lastCompleted) {
		missed = frameNumber - r.previousFrame - 1 // wraps mod 2^16, per spec §8 invariant 3
		r.previousFrame = frameNumber
		r.lastCompleted = frameNumber
		r.haveLastComplete = true
		complete = true
	}
	return
}

// writeFragment copies one fragment's payload into the reassembly buffer,
// growing it via the FrameTooSmall/CopyComplete callback dance as needed
// (spec §4.2 steps 4-6). Only ever called from the data worker goroutine.
//
// The buffer request is attempted once per fragment rather than spun on:
// if the callback can't yet satisfy the accumulated size, skipCurrentFrame
// stays set and every following fragment of this frame re-offers growth,
// recovering as soon as the consumer can supply a large-enough buffer or
// at the next frame boundary (spec §7).
func (r *Reader) writeFragment(header DataHeader, payload []byte) {
	cpIndex := int(header.FragmentNumber) * FragmentSize
	endIndex := cpIndex + len(payload)

	if endIndex > r.buf.Capacity || r.skipCurrentFrame {
		old := r.buf
		next := r.callback(Event{Cause: FrameTooSmall, RequestedSize: endIndex})

		if next.Capacity >= old.Size {
			copy(next.Ptr[:old.Size], old.Ptr[:old.Size])
			next.Size = old.Size
			r.skipCurrentFrame = false
		} else {
			r.skipCurrentFrame = true
		}

		r.callback(Event{Cause: CopyComplete, Buffer: old})
		r.buf = next
	}

	if r.skipCurrentFrame || endIndex > r.buf.Capacity {
		// Either the whole frame is being skipped, or the buffer granted
		// just now still can't hold this particular fragment; wait for the
		// next fragment (or frame boundary) to retry.
		return
	}

	copy(r.buf.Ptr[cpIndex:endIndex], payload)
	if endIndex > r.buf.Size {
		r.buf.Size = endIndex
	}
}
