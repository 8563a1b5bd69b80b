package kernel

import (
	"github.com/xtaci/gokernel/fcb"
	"github.com/xtaci/gokernel/sched"
)

// Pid identifies a process record: simply the record's index into
// the process table. It is fixed-width so ProcInfoRecord can be
// encoded with encoding/binary.
type Pid int32

type procState int

const (
	procFree procState = iota
	procAlive
	procZombie
)

// TaskFunc is a process or thread's entry point: it receives its argl
// and args blob and returns the value handed to Exit/ThreadExit.
type TaskFunc func(argl int, args []byte) int

// process is the process control block.
type process struct {
	pid   Pid
	state procState

	parent   *process
	children []*process
	exited   []*process // zombie children awaiting reap; always a subset of children

	mainTask TaskFunc
	argl     int
	args     []byte

	mainThread *thread
	threads    []*thread

	liveThreads int
	exitVal     int

	childExit *sched.CondVar

	fids *fcb.Table
}

func freshProcess(pid Pid, lock *sched.Bracket) *process {
	return &process{
		pid:       pid,
		state:     procFree,
		childExit: lock.NewCondOn(),
		fids:      fcb.NewTable(MaxFileID),
	}
}

// reset clears a process record back to its Free state: state=Free,
// every list node detached, every fid null. The childExit cv is kept
// (rebuilding it on every reuse would mean re-binding a cv to the
// shared global lock each time, for no benefit). The fid table is
// replaced with an empty one: teardown's DecRef leaves a slot occupied
// when its record is still shared with another owner. Every other
// field is zeroed.
func (p *process) reset() {
	p.state = procFree
	p.fids = fcb.NewTable(MaxFileID)
	p.parent = nil
	p.children = nil
	p.exited = nil
	p.mainTask = nil
	p.argl = 0
	p.args = nil
	p.mainThread = nil
	p.threads = nil
	p.liveThreads = 0
	p.exitVal = 0
}

// removeChild detaches c from p.children, preserving order of the
// rest.
func (p *process) removeChild(c *process) {
	for i, ch := range p.children {
		if ch == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// removeExited detaches c from p.exited.
func (p *process) removeExited(c *process) {
	for i, ch := range p.exited {
		if ch == c {
			p.exited = append(p.exited[:i], p.exited[i+1:]...)
			return
		}
	}
}
