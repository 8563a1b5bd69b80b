package kernel

import "github.com/xtaci/gokernel/sched"

// thread is the thread control block. The tid handed to user code is
// the thread record's own identity (an opaque pointer) — not a small
// integer, and not recovered from any ambient goroutine-local state,
// since there is deliberately no thread-local storage here. Callers
// carry their own Tid explicitly.
type thread struct {
	proc *process
	task TaskFunc
	argl int
	args []byte

	exited   bool
	detached bool
	exitVal  int
	refcount int32

	exitCv *sched.CondVar
}

// Tid is the opaque handle returned by CreateThread/ThreadSelf. It is
// a pointer to an unexported type: callers can hold it, compare it,
// and pass it back into Kernel methods, but cannot reach into its
// fields.
type Tid = *thread

func newThread(proc *process, task TaskFunc, argl int, args []byte, lock *sched.Bracket) *thread {
	t := &thread{proc: proc, task: task, argl: argl, args: args}
	t.exitCv = lock.NewCondOn()
	return t
}

// removeThread detaches t from p.threads.
func (p *process) removeThread(t *thread) {
	for i, th := range p.threads {
		if th == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			return
		}
	}
}

func (p *process) findThread(t Tid) bool {
	for _, th := range p.threads {
		if th == t {
			return true
		}
	}
	return false
}
