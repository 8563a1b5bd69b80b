package kernel

import (
	"sync"

	"github.com/xtaci/gokernel/fcb"
	"github.com/xtaci/gokernel/sched"
)

// Kernel is the facade that owns the sys_* entry point surface: the
// process table, guarded by the global bracket, and the port map,
// guarded by its own plain mutex. The two are kept on separate locks
// on purpose: process teardown (ThreadExit's last-thread path) runs
// under the bracket and drains every open fid, including listener
// sockets, whose close tears down their port-map entry. A single
// shared lock would make that drain reenter the bracket it's already
// holding; sched.Bracket is a plain, non-reentrant mutex, so that
// would deadlock. Pipes and sockets get their own private locks
// too — see DESIGN.md for the full lock-ordering
// rationale.
type Kernel struct {
	lock *sched.Bracket

	procs    [MaxProc]*process
	freeList []Pid // idiomatic-Go stand-in for a free list threaded
	// through a process record's parent field; ownership here is an
	// arena concern, not something back-pointers should imply, so
	// this is kept as a plain slice rather than reusing a struct
	// field for two purposes.

	portLock sync.Mutex
	portMap  [MaxPort + 1]*socket
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// New boots a Kernel: pid 0 (idle) and pid 1 (init) are reserved,
// parentless, and Alive.
func New(opts ...Option) *Kernel {
	k := &Kernel{lock: sched.NewBracket()}
	for i := range k.procs {
		k.procs[i] = freshProcess(Pid(i), k.lock)
	}

	idle := k.procs[IdlePid]
	if idle.pid != IdlePid {
		Fatal("idle process did not get pid %d", IdlePid)
	}
	idle.state = procAlive
	bootstrapThread(idle, k.lock)

	init := k.procs[InitPid]
	init.state = procAlive
	bootstrapThread(init, k.lock)

	// pids 2..MaxProc-1 start on the free list, in index order so
	// Exec's allocation is deterministic and easy to reason about in
	// tests.
	for pid := InitPid + 1; pid < MaxProc; pid++ {
		k.freeList = append(k.freeList, Pid(pid))
	}

	for _, opt := range opts {
		opt(k)
	}
	return k
}

// bootstrapThread gives idle and init a standing main thread outside
// of Exec's normal allocation path: neither is ever spawned by Exec,
// so without this their liveThreads count would start at zero and the
// first unrelated CreateThread/ThreadExit pair against them would read
// as "last thread exited" and zombify the process. The record is never
// run or joined; it simply occupies the "this process has one
// permanent thread" slot for as long as the process itself exists.
func bootstrapThread(p *process, lock *sched.Bracket) {
	t := newThread(p, nil, 0, nil, lock)
	t.refcount = 1
	p.mainThread = t
	p.threads = append(p.threads, t)
	p.liveThreads = 1
}

// mustProc returns the process record for pid, panicking via Fatal if
// pid is out of range — a caller presenting an out-of-range pid is a
// programming error in this simulated kernel, not a recoverable
// syscall failure.
func (k *Kernel) mustProc(pid Pid) *process {
	if pid < 0 || int(pid) >= MaxProc {
		Fatal("pid %d out of range", pid)
	}
	return k.procs[pid]
}

// GetPid returns callerPid unchanged: with no thread-local "current
// process", making the caller's own pid an explicit argument
// everywhere leaves nothing left for GetPid to look up.
func (k *Kernel) GetPid(callerPid Pid) Pid { return callerPid }

// GetPPid returns callerPid's parent pid, or NoProc if parentless.
func (k *Kernel) GetPPid(callerPid Pid) Pid {
	k.lock.PreemptOff()
	defer k.lock.PreemptOn()
	p := k.mustProc(callerPid)
	if p.parent == nil {
		return NoProc
	}
	return p.parent.pid
}

// Exec allocates a free PCB, makes it a child of callerPid, inherits
// callerPid's open fids with their reference counts incremented, and
// spawns the main thread. Returns the new
// pid, or an error if the table is full or task is nil.
func (k *Kernel) Exec(callerPid Pid, task TaskFunc, argl int, args []byte) (Pid, error) {
	if task == nil {
		return NoProc, logWrap(errInvalidArgument, "Exec: nil task")
	}

	k.lock.PreemptOff()
	if len(k.freeList) == 0 {
		k.lock.PreemptOn()
		return NoProc, logWrap(errResourceExhausted, "Exec: process table full")
	}

	pid := k.freeList[0]
	k.freeList = k.freeList[1:]
	child := k.procs[pid]
	child.state = procAlive

	// Every process created through Exec has a live parent: pid 0
	// and pid 1 are the only parentless records, and both are
	// bootstrapped directly by New, never by Exec.
	parent := k.mustProc(callerPid)
	child.parent = parent
	parent.children = append(parent.children, child)

	child.mainTask = task
	child.argl = argl
	child.args = append([]byte(nil), args...)

	parent.fids.Each(func(fid int, rec *fcb.Record) {
		parent.fids.IncRef(rec)
		child.fids.Install(fid, rec)
	})

	mainThread := newThread(child, task, argl, child.args, k.lock)
	child.mainThread = mainThread
	child.threads = append(child.threads, mainThread)
	child.liveThreads = 1
	k.lock.PreemptOn()

	sched.Spawn(child, func() {
		v := task(argl, child.args)
		k.ThreadExit(mainThread, v)
	})

	return pid, nil
}

// Exit stores v as the calling thread's process's exit value
// intention and, for pid 1 (init) only, first drains every child via
// repeated WaitChild(NoProc) so that no zombie is left unreaped once
// init itself goes away. It then delegates to ThreadExit, which
// performs the actual last-thread teardown.
func (k *Kernel) Exit(callerTid Tid, v int) {
	proc := callerTid.proc
	if proc.pid == InitPid {
		for {
			_, _, err := k.WaitChild(proc.pid, NoProc)
			if err != nil {
				break // no children left
			}
		}
	}
	k.ThreadExit(callerTid, v)
}

// WaitChild reaps an exited child. cpid == NoProc waits for any
// child; otherwise cpid must name a not-yet-reaped child of callerPid
// (alive or zombie).
func (k *Kernel) WaitChild(callerPid Pid, cpid Pid) (Pid, int, error) {
	k.lock.PreemptOff()
	defer k.lock.PreemptOn()

	parent := k.mustProc(callerPid)

	if cpid == NoProc {
		// Wait until either every child is gone (nothing left to
		// reap, NoProc) or at least one has zombified (reap the
		// front of the queue).
		for len(parent.exited) == 0 {
			if len(parent.children) == 0 {
				return NoProc, 0, errNotFound
			}
			parent.childExit.Wait(sched.ClassChildExit)
		}
		return k.reap(parent, parent.exited[0])
	}

	var target *process
	for _, c := range parent.children {
		if c.pid == cpid {
			target = c
			break
		}
	}
	if target == nil {
		return NoProc, 0, logWrap(errInvalidArgument, "WaitChild: not a child")
	}

	for target.state != procZombie {
		parent.childExit.Wait(sched.ClassChildExit)
	}
	return k.reap(parent, target)
}

// reap releases child's PCB back to the free list after recording its
// exit value. Caller must hold k.lock.
func (k *Kernel) reap(parent *process, child *process) (Pid, int, error) {
	status := child.exitVal
	pid := child.pid

	parent.removeChild(child)
	parent.removeExited(child)

	child.reset()
	k.freeList = append(k.freeList, pid)

	return pid, status, nil
}
