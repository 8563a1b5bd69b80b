package kernel

import (
	"bytes"
	"encoding/binary"
	"reflect"

	"github.com/xtaci/gokernel/fcb"
)

// ProcInfoRecord is one process's public snapshot, streamed one
// fixed-size record per Read, walked in pid order. MainTask is the
// task function's code address, encoded as a stable uint64 rather than
// a Go func value so the record has no pointer the far side of a
// stream boundary could dereference.
type ProcInfoRecord struct {
	Pid         Pid
	PPid        Pid
	Alive       bool
	ThreadCount int32
	MainTask    uint64
	Argl        int32
	Args        [ProcInfoMaxArgsSize]byte
}

// procInfoCursor is a read-only stream object: each Read call advances
// the cursor to the next occupied pid and encodes that process's
// ProcInfoRecord into the caller's buffer. It never blocks — an empty
// table position is simply skipped, and running off the end of the
// table yields EOF (n=0, err=nil), matching how pipe read signals EOF.
type procInfoCursor struct {
	k    *Kernel
	next Pid
}

// OpenInfo reserves a fid bound to a fresh process-info cursor,
// starting at pid 0.
func (k *Kernel) OpenInfo(callerPid Pid) (int, error) {
	proc := k.mustProc(callerPid)
	cur := &procInfoCursor{k: k, next: IdlePid}
	ops := &fcb.Ops{Read: cur.read}
	fid := proc.fids.Reserve(cur, ops)
	if fid < 0 {
		return NoFile, logWrap(errResourceExhausted, "OpenInfo: fid table full")
	}
	return fid, nil
}

func (c *procInfoCursor) read(buf []byte) (int, error) {
	rec, ok := c.k.nextLivePid(&c.next)
	if !ok {
		return 0, nil
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, rec); err != nil {
		return -1, logWrap(err, "procInfoCursor.read: encode")
	}
	return copy(buf, out.Bytes()), nil
}

// nextLivePid scans the process table starting at *cursor for the
// next occupied (non-Free) slot, builds its ProcInfoRecord, advances
// *cursor past it, and reports whether one was found.
func (k *Kernel) nextLivePid(cursor *Pid) (ProcInfoRecord, bool) {
	k.lock.PreemptOff()
	defer k.lock.PreemptOn()

	for pid := int(*cursor); pid < MaxProc; pid++ {
		p := k.procs[pid]
		if p.state == procFree {
			continue
		}

		rec := ProcInfoRecord{
			Pid:         p.pid,
			PPid:        NoProc,
			Alive:       p.state == procAlive,
			ThreadCount: int32(len(p.threads)),
			Argl:        int32(p.argl),
		}
		if p.parent != nil {
			rec.PPid = p.parent.pid
		}
		if p.mainTask != nil {
			rec.MainTask = uint64(reflect.ValueOf(p.mainTask).Pointer())
		}
		copy(rec.Args[:], p.args)

		*cursor = Pid(pid + 1)
		return rec, true
	}
	return ProcInfoRecord{}, false
}
