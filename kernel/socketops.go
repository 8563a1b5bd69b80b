package kernel

import (
	"time"

	"github.com/xtaci/gokernel/fcb"
	"github.com/xtaci/gokernel/sched"
)

// socketOps builds the fid vtable for s: Read/Write dispatch straight
// into the socket's own pipes, Close tears the socket down according
// to its current kind.
func (k *Kernel) socketOps(s *socket) *fcb.Ops {
	return &fcb.Ops{
		Read:  s.read,
		Write: s.write,
		Close: func() error { return k.closeSocket(s) },
	}
}

// Socket reserves a fid bound to a fresh Unbound socket carrying port
// (or NoPort if port is 0/NoPort). port is only recorded here; Listen
// is the separate step that actually publishes it.
func (k *Kernel) Socket(callerPid Pid, port int) (int, error) {
	if port < NoPort || port > MaxPort {
		return NoFile, logWrap(errInvalidArgument, "Socket: port out of range")
	}

	proc := k.mustProc(callerPid)
	s := newUnboundSocket(port)
	fid := proc.fids.Reserve(s, k.socketOps(s))
	if fid < 0 {
		return NoFile, logWrap(errResourceExhausted, "Socket: fid table full")
	}
	return fid, nil
}

// Listen transitions fid's socket from Unbound to Listener, using the
// port it was given at Socket time. The port must be non-NoPort and
// still free.
func (k *Kernel) Listen(callerPid Pid, fid int) error {
	proc := k.mustProc(callerPid)
	rec, err := proc.fids.Get(fid)
	if err != nil {
		return logWrap(errNotFound, "Listen: bad fid")
	}
	s, ok := rec.Obj.(*socket)
	if !ok {
		return logWrap(errStateViolation, "Listen: fid is not a socket")
	}

	// k.portLock guards the port map, which is shared kernel-wide and
	// deliberately kept off the global bracket (see Kernel's doc
	// comment); s.mu guards this one socket's own state. Taking
	// k.portLock first and s.mu second, and never blocking while
	// holding both, keeps this safe against Connect and Accept's
	// independent locking.
	k.portLock.Lock()
	defer k.portLock.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != sockUnbound {
		return logWrap(errStateViolation, "Listen: socket already bound")
	}
	port := s.port
	if port <= NoPort || port > MaxPort {
		return logWrap(errInvalidArgument, "Listen: socket has no port")
	}
	if k.portMap[port] != nil {
		return logWrap(errResourceExhausted, "Listen: port in use")
	}

	s.becomeListener()
	k.portMap[port] = s
	return nil
}

// Accept blocks until a connection request is queued on fid's
// listener, wires up a fresh Peer socket for it, and returns a new fid
// bound to that socket. The fid table must already have a free slot
// before Accept blocks — a connection admitted while this process has
// nowhere to put it would leak the connector's wait forever.
func (k *Kernel) Accept(callerPid Pid, fid int) (int, error) {
	proc := k.mustProc(callerPid)
	if !proc.fids.HasFree() {
		return NoFile, logWrap(errResourceExhausted, "Accept: fid table full")
	}

	rec, err := proc.fids.Get(fid)
	if err != nil {
		return NoFile, logWrap(errNotFound, "Accept: bad fid")
	}
	s, ok := rec.Obj.(*socket)
	if !ok {
		return NoFile, logWrap(errStateViolation, "Accept: fid is not a socket")
	}

	s.mu.Lock()
	if s.kind != sockListener {
		s.mu.Unlock()
		return NoFile, logWrap(errStateViolation, "Accept: fid is not a listener")
	}
	s.refcount++ // pin the listener across the wait below
	for len(s.queue) == 0 && s.published {
		s.reqAvailable.Wait(sched.ClassRendezvous)
	}
	if !s.published {
		s.refcount--
		s.mu.Unlock()
		return NoFile, logWrap(errNotFound, "Accept: listener closed")
	}
	req := s.queue[0]
	s.queue = s.queue[1:]
	port := s.port
	s.refcount--
	s.mu.Unlock()

	cToA := newPipe() // connector writes, acceptor reads
	aToC := newPipe() // acceptor writes, connector reads
	acceptor := &socket{kind: sockPeer, port: port, rpipe: cToA, wpipe: aToC}

	// Fully wire up both ends of the new connection before admitting
	// the connector — req's own mutex (distinct from the listener's)
	// lets us do this without racing a Connect waiter that could
	// otherwise observe admitted=true against a half-built peer.
	req.mu.Lock()
	connector := req.connector
	connector.mu.Lock()
	connector.kind = sockPeer
	connector.rpipe = aToC
	connector.wpipe = cToA
	connector.peer = acceptor
	connector.mu.Unlock()
	acceptor.peer = connector

	req.admitted = true
	req.connectedCv.Broadcast()
	req.mu.Unlock()

	newFid := proc.fids.Reserve(acceptor, k.socketOps(acceptor))
	if newFid < 0 {
		return NoFile, logWrap(errResourceExhausted, "Accept: fid table full")
	}
	return newFid, nil
}

// Connect enqueues a connection request against port and blocks until
// it is admitted by a matching Accept or timeoutMs elapses (negative
// means wait forever). A listener closing while Connect is parked does
// not wake it — Connect's own timeout is its only cancellation path.
// The closed listener drops its queue, and a listener opened later on
// the same port has a queue of its own, so only the timeout resolves
// the wait (with a negative timeout, it never ends).
func (k *Kernel) Connect(callerPid Pid, fid int, port int, timeoutMs int) error {
	proc := k.mustProc(callerPid)
	rec, err := proc.fids.Get(fid)
	if err != nil {
		return logWrap(errNotFound, "Connect: bad fid")
	}
	s, ok := rec.Obj.(*socket)
	if !ok {
		return logWrap(errStateViolation, "Connect: fid is not a socket")
	}

	s.mu.Lock()
	if s.kind != sockUnbound {
		s.mu.Unlock()
		return logWrap(errStateViolation, "Connect: socket already in use")
	}
	s.refcount++ // pinned for the duration of the blocking wait below
	s.mu.Unlock()

	k.portLock.Lock()
	listener := k.portMap[port]
	k.portLock.Unlock()
	if listener == nil {
		s.mu.Lock()
		s.refcount--
		s.mu.Unlock()
		return logWrap(errNotFound, "Connect: no listener on port")
	}

	req := newConnReq(s)

	listener.mu.Lock()
	if !listener.published || listener.kind != sockListener {
		listener.mu.Unlock()
		s.mu.Lock()
		s.refcount--
		s.mu.Unlock()
		return logWrap(errNotFound, "Connect: listener closed")
	}
	listener.queue = append(listener.queue, req)
	listener.reqAvailable.Broadcast()
	listener.mu.Unlock()

	req.mu.Lock()
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for !req.admitted {
		remaining := timeoutMs
		if timeoutMs >= 0 {
			remaining = int(time.Until(deadline) / time.Millisecond)
			if remaining < 0 {
				remaining = 0
			}
		}
		if req.connectedCv.TimedWait(sched.ClassRendezvous, remaining) {
			break // expired
		}
	}
	admitted := req.admitted
	req.mu.Unlock()

	// Symmetric on both outcomes: the pin taken above always gets
	// released exactly once here, whether Accept claimed the request
	// or the wait simply timed out.
	s.mu.Lock()
	s.refcount--
	s.mu.Unlock()

	if !admitted {
		return logWrap(errTimeout, "Connect: timed out")
	}
	return nil
}

// ShutDown closes one or both halves of fid's Peer socket. An invalid
// or already-empty fid is a silent no-op rather than an error, so that
// ShutDown racing a concurrent Close on the same fid never panics.
func (k *Kernel) ShutDown(callerPid Pid, fid int, how ShutdownHow) error {
	proc := k.mustProc(callerPid)
	rec, err := proc.fids.Get(fid)
	if err != nil {
		return nil
	}
	s, ok := rec.Obj.(*socket)
	if !ok {
		return logWrap(errStateViolation, "ShutDown: fid is not a socket")
	}

	s.mu.Lock()
	kind := s.kind
	s.mu.Unlock()
	if kind != sockPeer {
		return logWrap(errStateViolation, "ShutDown: socket is not connected")
	}

	switch how {
	case ShutdownRead:
		s.shutdownRead()
	case ShutdownWrite:
		s.shutdownWrite()
	case ShutdownBoth:
		s.shutdownRead()
		s.shutdownWrite()
	default:
		return logWrap(errInvalidArgument, "ShutDown: unrecognized how")
	}
	return nil
}

// closeSocket tears down s according to its kind, invoked as the fid
// table's Close op — including from inside ThreadExit's last-thread
// teardown, which already holds the global bracket. Only k.portLock
// is touched here, never k.lock, so this never reenters the bracket a
// caller further up the stack may already hold. A Listener unpublishes
// itself from the port map and wakes any blocked Accept (which will
// observe s.published false and return NoFile); a Peer closes both of
// its own pipe ends.
func (k *Kernel) closeSocket(s *socket) error {
	s.mu.Lock()
	switch s.kind {
	case sockListener:
		port := s.port
		s.published = false
		s.queue = nil
		s.mu.Unlock()

		k.portLock.Lock()
		if k.portMap[port] == s {
			k.portMap[port] = nil
		}
		k.portLock.Unlock()

		s.mu.Lock()
		s.reqAvailable.Broadcast()
		s.mu.Unlock()
	case sockPeer:
		s.mu.Unlock()
		s.closePeer()
	default:
		s.mu.Unlock()
	}
	return nil
}

// Pipe creates a byte pipe and reserves its two ends as fids in
// callerPid's table, read end first.
func (k *Kernel) Pipe(callerPid Pid) (readFid int, writeFid int, err error) {
	proc := k.mustProc(callerPid)

	p := newPipe()
	readOps := &fcb.Ops{
		Read:  p.read,
		Close: func() error { p.closeReader(); return nil },
	}
	writeOps := &fcb.Ops{
		Write: p.write,
		Close: func() error { p.closeWriter(); return nil },
	}

	rfid := proc.fids.Reserve(p, readOps)
	if rfid < 0 {
		return NoFile, NoFile, logWrap(errResourceExhausted, "Pipe: fid table full")
	}
	wfid := proc.fids.Reserve(p, writeOps)
	if wfid < 0 {
		_ = proc.fids.DecRef(rfid)
		return NoFile, NoFile, logWrap(errResourceExhausted, "Pipe: fid table full")
	}
	return rfid, wfid, nil
}

// Read, Write, Close and Dup2 dispatch through callerPid's fid table
// regardless of whether fid names a pipe end, a socket, or the process
// info stream, via one shared Ops vtable.

func (k *Kernel) Read(callerPid Pid, fid int, buf []byte) (int, error) {
	proc := k.mustProc(callerPid)
	n, err := proc.fids.Read(fid, buf)
	if err != nil {
		return NoFile, logWrap(err, "Read")
	}
	return n, nil
}

func (k *Kernel) Write(callerPid Pid, fid int, buf []byte) (int, error) {
	proc := k.mustProc(callerPid)
	n, err := proc.fids.Write(fid, buf)
	if err != nil {
		return NoFile, logWrap(err, "Write")
	}
	return n, nil
}

func (k *Kernel) Close(callerPid Pid, fid int) error {
	proc := k.mustProc(callerPid)
	return proc.fids.Close(fid)
}

func (k *Kernel) Dup2(callerPid Pid, oldfid, newfid int) error {
	proc := k.mustProc(callerPid)
	return proc.fids.Dup2(oldfid, newfid)
}
