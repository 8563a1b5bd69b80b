package kernel

import (
	"sync"

	"github.com/xtaci/gokernel/sched"
)

type socketKind int

const (
	sockUnbound socketKind = iota
	sockListener
	sockPeer
)

// socket is the socket control block: a tagged variant that starts
// Unbound and transitions at most once, either to Listener or to
// Peer, and stays there until closed.
type socket struct {
	mu   sync.Mutex
	kind socketKind
	port int

	// refcount pins the SCB across a blocking operation (Accept
	// waiting on this listener, Connect waiting on this unbound
	// socket). It is bookkeeping for that invariant, not a manual-free
	// trigger: Go's GC reclaims the struct once unreachable, so there
	// is no separate "free the SCB" step once refcount reaches zero —
	// see DESIGN.md.
	refcount int32

	// Listener fields.
	queue        []*connReq
	reqAvailable *sched.CondVar
	published    bool

	// Peer fields.
	peer  *socket
	rpipe *pipe // this end's read pipe
	wpipe *pipe // this end's write pipe
}

func newUnboundSocket(port int) *socket {
	return &socket{kind: sockUnbound, port: port}
}

// connReq is a connection request: created by the
// connector, enqueued on the listener's queue, owned by the listener
// until popped. Its own mutex+cv (rather than sharing the listener's)
// lets Accept finish wiring up the connector's socket before waking
// it, with no nested-lock ordering to get wrong.
type connReq struct {
	mu          sync.Mutex
	connector   *socket
	admitted    bool
	connectedCv *sched.CondVar
}

func newConnReq(connector *socket) *connReq {
	r := &connReq{connector: connector}
	r.connectedCv = sched.NewCond(&r.mu)
	return r
}

// becomeListener transitions sock from Unbound to Listener. Caller
// must already hold sock.mu and must have verified port_map
// exclusivity under the Kernel's portLock.
func (s *socket) becomeListener() {
	s.kind = sockListener
	s.queue = nil
	s.reqAvailable = sched.NewCond(&s.mu)
	s.published = true
}

// closePeer closes both of this socket's own pipe ends. The peer
// socket's own close call (or ShutDown) is responsible for the other
// two ends; a pipe is only ever destroyed once both of its ends have
// been closed by their respective owners.
func (s *socket) closePeer() {
	if s.rpipe != nil {
		s.rpipe.closeReader()
	}
	if s.wpipe != nil {
		s.wpipe.closeWriter()
	}
}

// shutdownRead closes this peer's read pipe's reader end only.
func (s *socket) shutdownRead() {
	if s.rpipe != nil {
		s.rpipe.closeReader()
	}
}

// shutdownWrite closes this peer's write pipe's writer end only.
func (s *socket) shutdownWrite() {
	if s.wpipe != nil {
		s.wpipe.closeWriter()
	}
}

func (s *socket) read(buf []byte) (int, error) {
	s.mu.Lock()
	kind := s.kind
	rp := s.rpipe
	s.mu.Unlock()
	if kind != sockPeer {
		return -1, errStateViolation
	}
	return rp.read(buf)
}

func (s *socket) write(buf []byte) (int, error) {
	s.mu.Lock()
	kind := s.kind
	wp := s.wpipe
	s.mu.Unlock()
	if kind != sockPeer {
		return -1, errStateViolation
	}
	return wp.write(buf)
}
