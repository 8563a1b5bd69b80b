package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/gokernel/kernel"
)

func payload(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte('a' + i%26)
	}
	return buf
}

// scenarioPipeEcho writes a message into a pipe and reads it back out
// the other end, closing the write end to observe clean EOF after.
func scenarioPipeEcho(k *kernel.Kernel, config Config) error {
	rfid, wfid, err := k.Pipe(kernel.InitPid)
	if err != nil {
		return errors.Wrap(err, "Pipe")
	}

	msg := payload(config.MessageSize)
	if _, err := k.Write(kernel.InitPid, wfid, msg); err != nil {
		return errors.Wrap(err, "Write")
	}
	if err := k.Close(kernel.InitPid, wfid); err != nil {
		return errors.Wrap(err, "Close writer")
	}

	var got []byte
	buf := make([]byte, 32)
	for {
		n, err := k.Read(kernel.InitPid, rfid, buf)
		if err != nil {
			return errors.Wrap(err, "Read")
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}

	if !bytes.Equal(got, msg) {
		return errors.Errorf("echoed %d bytes, want %d matching the original", len(got), len(msg))
	}
	return nil
}

// scenarioSocketPing listens on config.Port, connects to it, accepts
// the connection, and trades one message in each direction.
func scenarioSocketPing(k *kernel.Kernel, config Config) error {
	lfid, err := k.Socket(kernel.InitPid, config.Port)
	if err != nil {
		return errors.Wrap(err, "Socket (listener)")
	}
	if err := k.Listen(kernel.InitPid, lfid); err != nil {
		return errors.Wrap(err, "Listen")
	}

	cfid, err := k.Socket(kernel.InitPid, kernel.NoPort)
	if err != nil {
		return errors.Wrap(err, "Socket (connector)")
	}

	type acceptResult struct {
		fid int
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		fid, err := k.Accept(kernel.InitPid, lfid)
		accepted <- acceptResult{fid, err}
	}()

	if err := k.Connect(kernel.InitPid, cfid, config.Port, config.TimeoutMs); err != nil {
		return errors.Wrap(err, "Connect")
	}

	res := <-accepted
	if res.err != nil {
		return errors.Wrap(res.err, "Accept")
	}
	afid := res.fid

	ping := payload(config.MessageSize)
	if _, err := k.Write(kernel.InitPid, cfid, ping); err != nil {
		return errors.Wrap(err, "Write ping")
	}
	buf := make([]byte, len(ping))
	if n, err := k.Read(kernel.InitPid, afid, buf); err != nil || n != len(ping) {
		return errors.Errorf("accept side read %d bytes, err=%v, want %d", n, err, len(ping))
	}

	pong := payload(config.MessageSize)
	if _, err := k.Write(kernel.InitPid, afid, pong); err != nil {
		return errors.Wrap(err, "Write pong")
	}
	if n, err := k.Read(kernel.InitPid, cfid, buf); err != nil || n != len(pong) {
		return errors.Errorf("connector side read %d bytes, err=%v, want %d", n, err, len(pong))
	}

	return nil
}

// scenarioConnectTimeout demonstrates Connect's own timeout firing
// against a port whose listener never calls Accept.
func scenarioConnectTimeout(k *kernel.Kernel, config Config) error {
	cfid, err := k.Socket(kernel.InitPid, kernel.NoPort)
	if err != nil {
		return errors.Wrap(err, "Socket")
	}

	// A listener must exist on the port (otherwise Connect fails
	// immediately with "no listener"), but nothing ever calls Accept
	// on it, so the request just sits queued until the timeout fires.
	lfid, err := k.Socket(kernel.InitPid, config.Port)
	if err != nil {
		return errors.Wrap(err, "Socket (listener)")
	}
	if err := k.Listen(kernel.InitPid, lfid); err != nil {
		return errors.Wrap(err, "Listen")
	}

	start := time.Now()
	err = k.Connect(kernel.InitPid, cfid, config.Port, config.TimeoutMs)
	elapsed := time.Since(start)
	if err == nil {
		return errors.New("Connect unexpectedly succeeded with no Accept ever issued")
	}
	fmt.Printf("Connect timed out after %s as expected: %v\n", elapsed, err)
	return nil
}

// scenarioShutdownWrite half-closes a connected socket's write side
// and confirms the peer sees EOF rather than blocking forever.
func scenarioShutdownWrite(k *kernel.Kernel, config Config) error {
	lfid, err := k.Socket(kernel.InitPid, config.Port)
	if err != nil {
		return errors.Wrap(err, "Socket (listener)")
	}
	if err := k.Listen(kernel.InitPid, lfid); err != nil {
		return errors.Wrap(err, "Listen")
	}
	cfid, err := k.Socket(kernel.InitPid, kernel.NoPort)
	if err != nil {
		return errors.Wrap(err, "Socket (connector)")
	}

	accepted := make(chan int, 1)
	go func() {
		fid, _ := k.Accept(kernel.InitPid, lfid)
		accepted <- fid
	}()
	if err := k.Connect(kernel.InitPid, cfid, config.Port, config.TimeoutMs); err != nil {
		return errors.Wrap(err, "Connect")
	}
	afid := <-accepted

	if err := k.ShutDown(kernel.InitPid, cfid, kernel.ShutdownWrite); err != nil {
		return errors.Wrap(err, "ShutDown")
	}

	buf := make([]byte, 16)
	n, err := k.Read(kernel.InitPid, afid, buf)
	if err != nil {
		return errors.Wrap(err, "Read after peer shutdown")
	}
	if n != 0 {
		return errors.Errorf("expected EOF (0 bytes) after peer's write half closed, got %d", n)
	}
	return nil
}

// scenarioForkWait Execs a child process and reaps it with WaitChild.
func scenarioForkWait(k *kernel.Kernel, config Config) error {
	const childExitValue = 17
	pid, err := k.Exec(kernel.InitPid, func(argl int, args []byte) int {
		return argl
	}, childExitValue, nil)
	if err != nil {
		return errors.Wrap(err, "Exec")
	}

	reaped, status, err := k.WaitChild(kernel.InitPid, pid)
	if err != nil {
		return errors.Wrap(err, "WaitChild")
	}
	if reaped != pid || status != childExitValue {
		return errors.Errorf("WaitChild returned (%d, %d), want (%d, %d)", reaped, status, pid, childExitValue)
	}
	return nil
}

// scenarioThreadJoin creates a second thread and joins it for its
// exit value.
func scenarioThreadJoin(k *kernel.Kernel, config Config) error {
	const want = 99
	tid, err := k.CreateThread(kernel.InitPid, func(argl int, args []byte) int {
		return argl
	}, want, nil)
	if err != nil {
		return errors.Wrap(err, "CreateThread")
	}

	v, err := k.ThreadJoin(tid)
	if err != nil {
		return errors.Wrap(err, "ThreadJoin")
	}
	if v != want {
		return errors.Errorf("ThreadJoin = %d, want %d", v, want)
	}
	return nil
}
