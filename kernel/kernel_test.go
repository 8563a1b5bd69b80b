package kernel

import (
	"testing"
	"time"
)

func noop(argl int, args []byte) int { return argl }

func TestExecAssignsChildAndWaitChildReaps(t *testing.T) {
	k := New()

	pid, err := k.Exec(InitPid, noop, 42, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := k.GetPPid(pid); got != InitPid {
		t.Fatalf("GetPPid(child) = %d, want %d", got, InitPid)
	}

	reaped, status, err := k.WaitChild(InitPid, pid)
	if err != nil {
		t.Fatalf("WaitChild: %v", err)
	}
	if reaped != pid {
		t.Fatalf("WaitChild reaped %d, want %d", reaped, pid)
	}
	if status != 42 {
		t.Fatalf("WaitChild status = %d, want 42", status)
	}

	if _, _, err := k.WaitChild(InitPid, pid); err == nil {
		t.Fatal("expected error reaping an already-reaped pid")
	}
}

func TestWaitChildWildcardWaitsForAnyChild(t *testing.T) {
	k := New()

	pid, err := k.Exec(InitPid, func(argl int, args []byte) int {
		time.Sleep(10 * time.Millisecond)
		return 7
	}, 0, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}

	reaped, status, err := k.WaitChild(InitPid, NoProc)
	if err != nil {
		t.Fatalf("WaitChild(NoProc): %v", err)
	}
	if reaped != pid || status != 7 {
		t.Fatalf("got (%d, %d), want (%d, 7)", reaped, status, pid)
	}
}

func TestWaitChildWildcardErrorsWithNoChildren(t *testing.T) {
	k := New()
	if _, _, err := k.WaitChild(InitPid, NoProc); err == nil {
		t.Fatal("expected error with no children at all")
	}
}

func TestWaitChildRejectsNonChild(t *testing.T) {
	k := New()
	if _, _, err := k.WaitChild(InitPid, Pid(99)); err == nil {
		t.Fatal("expected error waiting on an unrelated pid")
	}
}

func TestExecFailsOnNilTask(t *testing.T) {
	k := New()
	if _, err := k.Exec(InitPid, nil, 0, nil); err == nil {
		t.Fatal("expected error for nil task")
	}
}

func TestExecExhaustsProcessTable(t *testing.T) {
	k := New()
	blocked := make(chan struct{})
	hold := func(argl int, args []byte) int {
		<-blocked
		return 0
	}

	var pids []Pid
	for {
		pid, err := k.Exec(InitPid, hold, 0, nil)
		if err != nil {
			break
		}
		pids = append(pids, pid)
	}
	if len(pids) == 0 {
		t.Fatal("expected at least one successful Exec before exhaustion")
	}

	if _, err := k.Exec(InitPid, hold, 0, nil); err == nil {
		t.Fatal("expected process table full error")
	}

	close(blocked)
	for _, pid := range pids {
		if _, _, err := k.WaitChild(InitPid, pid); err != nil {
			t.Fatalf("draining WaitChild(%d): %v", pid, err)
		}
	}
}

func TestExecInheritsOpenFids(t *testing.T) {
	k := New()

	rfid, wfid, err := k.Pipe(InitPid)
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}

	pidCh := make(chan Pid, 1)
	result := make(chan string, 1)
	_, err = k.Exec(InitPid, func(argl int, args []byte) int {
		childPid := <-pidCh
		buf := make([]byte, 5)
		n, err := k.Read(childPid, rfid, buf)
		if err != nil {
			result <- ""
			return -1
		}
		result <- string(buf[:n])
		return n
	}, 0, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	pidCh <- lastLivePid(t, k)

	if _, err := k.Write(InitPid, wfid, []byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := k.Close(InitPid, wfid); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := <-result; got != "hi" {
		t.Fatalf("child read %q via inherited fid, want %q", got, "hi")
	}

	if _, _, err := k.WaitChild(InitPid, NoProc); err != nil {
		t.Fatalf("WaitChild: %v", err)
	}
}

// lastLivePid returns the highest-numbered currently-Alive pid, used
// by tests that need to hand a just-Exec'd child its own pid without
// a race against New's deterministic free-list ordering.
func lastLivePid(t *testing.T, k *Kernel) Pid {
	t.Helper()
	k.lock.PreemptOff()
	defer k.lock.PreemptOn()
	var found Pid = NoProc
	for pid := MaxProc - 1; pid >= 0; pid-- {
		if k.procs[pid].state == procAlive {
			found = Pid(pid)
			break
		}
	}
	if found == NoProc {
		t.Fatal("no alive process found")
	}
	return found
}

func TestInitKeepsChildrenAfterExtraThreadExits(t *testing.T) {
	k := New()

	for i := 0; i < 3; i++ {
		if _, err := k.Exec(InitPid, noop, 0, nil); err != nil {
			t.Fatalf("Exec %d: %v", i, err)
		}
	}

	tid, err := k.CreateThread(InitPid, noop, 0, nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := k.ThreadJoin(tid); err != nil {
		t.Fatalf("ThreadJoin: %v", err)
	}

	if _, _, err := k.WaitChild(InitPid, NoProc); err != nil {
		t.Fatalf("draining first child: %v", err)
	}
}
