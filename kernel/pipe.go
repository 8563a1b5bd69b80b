package kernel

import (
	"sync"

	"github.com/xtaci/gokernel/sched"
)

// pipe is a bounded single-producer/single-consumer byte buffer with
// condition-variable flow control and end-of-stream semantics. One cv
// per wait condition (hasData, hasSpace) avoids the thundering-herd
// wakeup a single shared cv would cause between readers and writers —
// the same rationale smux's stream.go gives for splitting
// chReaderWakeup from chWriterWakeup.
type pipe struct {
	mu       sync.Mutex
	hasData  *sched.CondVar
	hasSpace *sched.CondVar

	buf  [PipeBufferSize]byte
	wPos uint64 // monotonically increasing, indexed modulo len(buf)
	rPos uint64

	readerOpen bool
	writerOpen bool
}

func newPipe() *pipe {
	p := &pipe{readerOpen: true, writerOpen: true}
	p.hasData = sched.NewCond(&p.mu)
	p.hasSpace = sched.NewCond(&p.mu)
	return p
}

// destroyed reports whether both ends are closed. In Go the backing
// array is simply left for the garbage collector once unreachable;
// this accessor exists so tests can observe the "destroyed exactly
// when both reader and writer are gone" invariant without depending
// on GC timing.
func (p *pipe) destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.readerOpen && !p.writerOpen
}

func (p *pipe) occupied() uint64 { return p.wPos - p.rPos }

// write copies n bytes from buf into the circular buffer, blocking on
// hasSpace while full. Preemption is conceptually "off" for the
// duration of write: every mutation happens under p.mu, so the cv
// checks and buffer writes are atomic with respect to wakeups.
func (p *pipe) write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return -1, errInvalidArgument
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.writerOpen {
		return -1, errStateViolation
	}

	written := 0
	for written < len(buf) {
		if !p.readerOpen {
			// Reader vanished mid-write: the call returns -1 and
			// the bytes already written are discarded from the
			// caller's point of view.
			return -1, errPeerClosed
		}

		for p.occupied() >= PipeBufferSize {
			if !p.readerOpen {
				return -1, errPeerClosed
			}
			if !p.writerOpen {
				return -1, errStateViolation
			}
			// Let a reader parked on an empty buffer see what this
			// call has written so far before parking on hasSpace.
			p.hasData.Broadcast()
			p.hasSpace.Wait(sched.ClassIO)
		}

		idx := p.wPos % PipeBufferSize
		p.buf[idx] = buf[written]
		p.wPos++
		written++
	}

	if written > 0 {
		// Broadcasts at the end of every write (and before parking on
		// a full buffer, above) rather than only on the
		// empty-to-non-empty transition: it never misses a wakeup, and
		// it is simpler to prove correct than tracking the transition
		// precisely.
		p.hasData.Broadcast()
	}

	return written, nil
}

// read copies up to len(buf) bytes out of the circular buffer into
// buf, blocking on hasData while empty and the writer end is open.
// Once the writer end closes and the buffer drains, read returns the
// bytes delivered so far (0 on an already-drained pipe): end of
// stream.
func (p *pipe) read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return -1, errInvalidArgument
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.readerOpen {
		return -1, errStateViolation
	}

	for p.occupied() == 0 {
		if !p.writerOpen {
			return 0, nil // EOF: writer gone, buffer empty
		}
		p.hasData.Wait(sched.ClassIO)
		if !p.readerOpen {
			return -1, errStateViolation
		}
	}

	wasFull := p.occupied() >= PipeBufferSize

	n := 0
	for n < len(buf) && p.occupied() > 0 {
		idx := p.rPos % PipeBufferSize
		buf[n] = p.buf[idx]
		p.rPos++
		n++
	}

	if wasFull && n > 0 {
		p.hasSpace.Broadcast()
	}

	return n, nil
}

// closeWriter marks the writer end Closed. If the reader end is
// already closed the pipe is now destroyed; otherwise any blocked
// reader is woken to observe EOF.
func (p *pipe) closeWriter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.writerOpen {
		return
	}
	p.writerOpen = false
	if p.readerOpen {
		p.hasData.Broadcast()
	}
}

// closeReader is symmetric to closeWriter: marks the reader end
// Closed, waking any blocked writer so it can observe the
// closed-peer condition and return -1.
func (p *pipe) closeReader() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.readerOpen {
		return
	}
	p.readerOpen = false
	if p.writerOpen {
		p.hasSpace.Broadcast()
	}
}
