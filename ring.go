package vicap

import "time"

// QueuedBuffers is the capture ring depth: the number of buffers that can
// be in flight between the capture worker and buffer retirement.
const QueuedBuffers = 4

// prevBufferDec is the pipeline depth between a frame-start event and the
// moment that frame's outcome is certain. The ring corrects the slot armed
// two events ago when the current outcome arrives.
const prevBufferDec = 2

// warmupFrames counts the retired frames at the start of a session that are
// forced to an error state. After a stream start, a syncpt timeout, or an
// error frame, the next buffers are intermittently frames of zeros with no
// error status, so their recorded outcome cannot be trusted.
const warmupFrames = 2

// BufferState is the terminal state a buffer carries back to its owner.
type BufferState int

// Buffer states. A buffer that never reached the hardware goes back as
// BufferQueued; a captured frame is BufferDone or BufferError.
const (
	BufferQueued BufferState = iota
	BufferDone
	BufferError
)

func (s BufferState) String() string {
	switch s {
	case BufferQueued:
		return "queued"
	case BufferDone:
		return "done"
	case BufferError:
		return "error"
	}
	return "invalid"
}

// Buffer describes one host memory frame buffer. The capture core borrows
// it from the owning queue while the frame is in flight and returns it
// exactly once, with a terminal state, through the ring retirement step.
type Buffer struct {
	Addr      uint64 // DMA-visible base address
	Surface   []byte // optional backing bytes, used by the frame dumper
	Sequence  uint32
	Timestamp time.Time
	State     BufferState
}

// frameRing is the fixed-capacity ring of in-flight buffers between the
// capture worker and retirement. Slots default to an error state when
// armed; outcomes are corrected retroactively as later frame events prove
// what happened. All index mutation happens in the worker context (or
// after the worker has stopped), so the ring carries no lock of its own;
// add is additionally serialized with the submission path by the channel's
// queue lock.
type frameRing struct {
	bufs      [QueuedBuffers]*Buffer
	state     [QueuedBuffers]BufferState
	saveIndex int
	freeIndex int
	num       int
	released  int
	sequence  uint32
	seenStart bool
	release   func(*Buffer)
}

func (r *frameRing) reset() {
	r.released = 0
	r.num = 0
	r.saveIndex = 0
	r.freeIndex = 0
	r.seenStart = false
}

// add appends a dequeued buffer at the save index. The slot state defaults
// to error so that a retirement before the true outcome is known reports a
// failure rather than false success.
func (r *frameRing) add(buf *Buffer) {
	r.state[r.saveIndex] = BufferError
	r.bufs[r.saveIndex] = buf
	r.saveIndex++
	if r.saveIndex >= QueuedBuffers {
		r.saveIndex = 0
	}
	r.num++
}

// updateState records the now-certain outcome of the frame armed two
// events ago. When capture state is not good there will be no later event
// to correct the in-flight frame, so its slot gets the same outcome now.
func (r *frameRing) updateState(state BufferState, cs CaptureState) {
	idx := r.saveIndex - prevBufferDec
	if idx < 0 {
		idx += QueuedBuffers
	}
	r.state[idx] = state

	if cs != CaptureGood {
		cur := r.saveIndex - 1
		if cur < 0 {
			cur += QueuedBuffers
		}
		r.state[cur] = state
	}
}

// frame advances the ring for one frame event: retroactively corrects the
// lookback slot (except on the very first frame start of a session),
// stamps the in-flight buffer's timestamp, and either retires in steady
// state or flushes everything when capture state is not good.
func (r *frameRing) frame(buf *Buffer, ts time.Time, state BufferState, cs CaptureState) {
	if !r.seenStart {
		r.seenStart = true
	} else {
		r.updateState(state, cs)
	}

	buf.Timestamp = ts

	// hardware state is being torn down; nothing in flight can be trusted
	if cs != CaptureGood {
		r.free(r.num, cs)
		r.reset()
		return
	}

	// release buffer N at the N+2 frame start, keeping one slot of headroom
	if r.num >= QueuedBuffers-1 {
		r.free(1, cs)
	}
}

// free retires the n oldest slots in FIFO order, stamping sequence numbers
// and forcing warm-up and fault-flush retirements to an error state. A
// clean quiesce (capture state idle) keeps the recorded outcomes: those
// frames completed before the stream wound down.
func (r *frameRing) free(n int, cs CaptureState) {
	fault := cs == CaptureTimeout || cs == CaptureError
	for ; n > 0; n-- {
		buf := r.bufs[r.freeIndex]

		buf.Sequence = r.sequence
		r.sequence++

		if fault || r.released < warmupFrames {
			r.state[r.freeIndex] = BufferError
		}
		buf.State = r.state[r.freeIndex]

		r.freeIndex++
		if r.freeIndex >= QueuedBuffers {
			r.freeIndex = 0
		}
		r.num--
		r.released++

		r.release(buf)
	}
}

// occupied returns the number of in-flight slots.
func (r *frameRing) occupied() int {
	return r.num
}
