package kernel

import (
	"testing"
	"time"
)

func TestPipeEcho(t *testing.T) {
	p := newPipe()

	total := 5000
	src := make([]byte, total)
	for i := range src {
		src[i] = byte(i % 256)
	}

	done := make(chan error, 1)
	go func() {
		off := 0
		for off < len(src) {
			chunk := src[off:]
			if len(chunk) > 777 {
				chunk = chunk[:777]
			}
			n, err := p.write(chunk)
			if err != nil {
				done <- err
				return
			}
			off += n
		}
		p.closeWriter()
		done <- nil
	}()

	var got []byte
	buf := make([]byte, 1024)
	for {
		n, err := p.read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}

	if err := <-done; err != nil {
		t.Fatalf("writer: %v", err)
	}

	if len(got) != len(src) {
		t.Fatalf("got %d bytes, want %d", len(got), len(src))
	}
	for i := range src {
		if got[i] != src[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, got[i], src[i])
		}
	}

	// further reads after EOF keep returning 0
	n, err := p.read(buf)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil) after EOF, got (%d, %v)", n, err)
	}
}

func TestPipeOccupiedInvariant(t *testing.T) {
	p := newPipe()
	n, err := p.write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	occ := p.occupied()
	if occ > PipeBufferSize {
		t.Fatalf("occupied %d exceeds buffer size %d", occ, PipeBufferSize)
	}
	buf := make([]byte, 5)
	if n, err := p.read(buf); err != nil || n != 5 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	if p.occupied() != 0 {
		t.Fatalf("expected drained pipe, occupied=%d", p.occupied())
	}
}

func TestPipeCloseWriterThenReadDrains(t *testing.T) {
	p := newPipe()
	if _, err := p.write([]byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.closeWriter()

	buf := make([]byte, 1)
	var got []byte
	for {
		n, err := p.read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
	if n, err := p.read(buf); err != nil || n != 0 {
		t.Fatalf("expected further EOF reads, got (%d, %v)", n, err)
	}
}

func TestPipeCloseReaderFailsWriter(t *testing.T) {
	p := newPipe()
	p.closeReader()
	if n, err := p.write([]byte("x")); n != -1 || err != errPeerClosed {
		t.Fatalf("expected (-1, errPeerClosed), got (%d, %v)", n, err)
	}
}

func TestPipeWriteBlocksOnFullBufferThenUnblocks(t *testing.T) {
	p := newPipe()
	big := make([]byte, PipeBufferSize)
	if n, err := p.write(big); err != nil || n != PipeBufferSize {
		t.Fatalf("fill write: n=%d err=%v", n, err)
	}

	blocked := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		close(blocked)
		_, err := p.write([]byte("more"))
		result <- err
	}()

	<-blocked
	time.Sleep(30 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("write returned before any space was freed")
	default:
	}

	drain := make([]byte, 4)
	if _, err := p.read(drain); err != nil {
		t.Fatalf("read: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("writer: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked writer never woke after space was freed")
	}
}

func TestPipeDestroyedOnlyWhenBothEndsClosed(t *testing.T) {
	p := newPipe()
	if p.destroyed() {
		t.Fatal("freshly created pipe must not be destroyed")
	}
	p.closeWriter()
	if p.destroyed() {
		t.Fatal("pipe with an open reader must not be destroyed")
	}
	p.closeReader()
	if !p.destroyed() {
		t.Fatal("pipe with both ends closed must be destroyed")
	}
}

func TestPipeRejectsZeroLengthBuffers(t *testing.T) {
	p := newPipe()
	if n, err := p.write(nil); n != -1 || err != errInvalidArgument {
		t.Fatalf("write(nil): got (%d, %v)", n, err)
	}
	if n, err := p.read(nil); n != -1 || err != errInvalidArgument {
		t.Fatalf("read(nil): got (%d, %v)", n, err)
	}
}
