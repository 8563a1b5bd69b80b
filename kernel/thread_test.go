package kernel

import (
	"testing"
	"time"
)

func TestCreateThreadJoinReturnsExitValue(t *testing.T) {
	k := New()

	tid, err := k.CreateThread(InitPid, func(argl int, args []byte) int {
		return argl * 2
	}, 21, nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	v, err := k.ThreadJoin(tid)
	if err != nil {
		t.Fatalf("ThreadJoin: %v", err)
	}
	if v != 42 {
		t.Fatalf("ThreadJoin = %d, want 42", v)
	}
}

func TestThreadJoinBlocksUntilExit(t *testing.T) {
	k := New()

	release := make(chan struct{})
	tid, err := k.CreateThread(InitPid, func(argl int, args []byte) int {
		<-release
		return 5
	}, 0, nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		v, err := k.ThreadJoin(tid)
		if err != nil {
			done <- -1
			return
		}
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("ThreadJoin returned before the thread exited")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case v := <-done:
		if v != 5 {
			t.Fatalf("got %d, want 5", v)
		}
	case <-time.After(time.Second):
		t.Fatal("ThreadJoin never woke after exit")
	}
}

func TestThreadDetachThenJoinFails(t *testing.T) {
	k := New()

	tid, err := k.CreateThread(InitPid, noop, 0, nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := k.ThreadDetach(tid); err != nil {
		t.Fatalf("ThreadDetach: %v", err)
	}
	if _, err := k.ThreadJoin(tid); err == nil {
		t.Fatal("expected ThreadJoin on a detached thread to fail")
	}
}

func TestThreadSelfIsIdentity(t *testing.T) {
	k := New()
	tid, err := k.CreateThread(InitPid, noop, 0, nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if k.ThreadSelf(tid) != tid {
		t.Fatal("ThreadSelf must return its argument unchanged")
	}
	k.ThreadJoin(tid)
}

func TestLastThreadExitZombifiesProcessAndReparentsChildren(t *testing.T) {
	k := New()

	selfCh := make(chan Pid, 1)
	gcStarted := make(chan struct{})
	gcRelease := make(chan struct{})

	pid, err := k.Exec(InitPid, func(argl int, args []byte) int {
		self := <-selfCh
		if _, err := k.Exec(self, func(argl int, args []byte) int {
			<-gcRelease
			return 99
		}, 0, nil); err != nil {
			panic(err)
		}
		close(gcStarted)
		return 3
	}, 0, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	selfCh <- pid
	<-gcStarted

	// The parent's only thread returns now, while its grandchild is
	// still alive (blocked on gcRelease): this must reparent the
	// grandchild onto init rather than leave it orphaned.
	reaped, status, err := k.WaitChild(InitPid, pid)
	if err != nil {
		t.Fatalf("WaitChild: %v", err)
	}
	if reaped != pid || status != 3 {
		t.Fatalf("got (%d, %d), want (%d, 3)", reaped, status, pid)
	}

	close(gcRelease)
	if _, _, err := k.WaitChild(InitPid, NoProc); err != nil {
		t.Fatalf("WaitChild for reparented grandchild: %v", err)
	}
}
