// Package fcb is the stream reservation layer: reserve, incref,
// decref against a fixed-size fid table. The kernel package treats it
// as an external collaborator it merely consumes through an
// interface; it is kept deliberately small and free of any
// pipe/socket-specific knowledge.
package fcb

import (
	"errors"
	"sync"
)

// ErrUnsupported is returned when a Table.Read/Write dispatch
// lands on a nil vtable entry: a stream end that "does not apply" is
// modeled as an absent entry rather than a function that always
// errors, so the absence itself is what produces ErrUnsupported,
// once, at the single dispatch point.
var ErrUnsupported = errors.New("fcb: operation not supported on this stream")

// ErrNoFile is returned when a fid is out of range or its slot is
// empty.
var ErrNoFile = errors.New("fcb: no such fid")

// Ops is the four-entry operation vtable every stream object wires
// into its file record. A nil entry means the operation is not
// applicable to this kind of stream end (e.g. Read on a pipe's write
// end) and is never called.
type Ops struct {
	Open  func() error
	Read  func(buf []byte) (int, error)
	Write func(buf []byte) (int, error)
	Close func() error
}

// Record is one open file/socket/pipe end: an opaque stream object
// plus its operation table, with a reference count for the cases
// where a single record is shared across fids (Dup2, fork-style fid
// inheritance on Exec).
type Record struct {
	Obj      interface{}
	Ops      *Ops
	refcount int32
}

// Table is a fixed-size, per-process array of file records indexed
// by fid.
type Table struct {
	mu    sync.Mutex
	slots []*Record
}

// NewTable returns an empty table with size slots.
func NewTable(size int) *Table {
	return &Table{slots: make([]*Record, size)}
}

// Reserve finds a free slot, installs rec with refcount 1, and
// returns its fid. Returns -1 if the table is full.
func (t *Table) Reserve(obj interface{}, ops *Ops) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = &Record{Obj: obj, Ops: ops, refcount: 1}
			return i
		}
	}
	return -1
}

// Install places rec directly into fid, used when a caller has
// already built the Record out-of-band (e.g. inheriting a parent's
// fid onto a child at a matching index). Returns false if fid is out
// of range or occupied.
func (t *Table) Install(fid int, rec *Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fid < 0 || fid >= len(t.slots) || t.slots[fid] != nil {
		return false
	}
	t.slots[fid] = rec
	return true
}

// Get returns the record bound to fid, or ErrNoFile.
func (t *Table) Get(fid int) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fid < 0 || fid >= len(t.slots) || t.slots[fid] == nil {
		return nil, ErrNoFile
	}
	return t.slots[fid], nil
}

// IncRef bumps rec's refcount; used when a fid is handed to a second
// owner (Dup2, or Exec inheriting fids into a child).
func (t *Table) IncRef(rec *Record) {
	t.mu.Lock()
	rec.refcount++
	t.mu.Unlock()
}

// DecRef drops fid's refcount. At zero, it calls the record's Close
// op (if any) and clears the slot. Returns ErrNoFile if fid is empty.
func (t *Table) DecRef(fid int) error {
	t.mu.Lock()
	rec := t.slots[safeIndex(t.slots, fid)]
	if fid < 0 || fid >= len(t.slots) || rec == nil {
		t.mu.Unlock()
		return ErrNoFile
	}
	rec.refcount--
	last := rec.refcount <= 0
	if last {
		t.slots[fid] = nil
	}
	t.mu.Unlock()

	if last && rec.Ops != nil && rec.Ops.Close != nil {
		return rec.Ops.Close()
	}
	return nil
}

// Dup2 makes newfid refer to the same record as oldfid, closing
// whatever newfid previously held.
func (t *Table) Dup2(oldfid, newfid int) error {
	t.mu.Lock()
	if oldfid < 0 || oldfid >= len(t.slots) || t.slots[oldfid] == nil {
		t.mu.Unlock()
		return ErrNoFile
	}
	if newfid < 0 || newfid >= len(t.slots) {
		t.mu.Unlock()
		return ErrNoFile
	}
	if oldfid == newfid {
		t.mu.Unlock()
		return nil
	}
	old := t.slots[newfid]
	rec := t.slots[oldfid]
	rec.refcount++
	t.slots[newfid] = rec
	t.mu.Unlock()

	if old != nil {
		return t.closeRecord(newfid, old)
	}
	return nil
}

// closeRecord is used internally by Dup2 to release a record that a
// slot no longer points to, outside of the slot-owning DecRef path
// (the slot has already been overwritten, so DecRef cannot find it by
// fid).
func (t *Table) closeRecord(fid int, rec *Record) error {
	t.mu.Lock()
	rec.refcount--
	last := rec.refcount <= 0
	t.mu.Unlock()
	if last && rec.Ops != nil && rec.Ops.Close != nil {
		return rec.Ops.Close()
	}
	return nil
}

// Read dispatches through fid's vtable, returning ErrUnsupported if
// the stream has no Read entry.
func (t *Table) Read(fid int, buf []byte) (int, error) {
	rec, err := t.Get(fid)
	if err != nil {
		return -1, err
	}
	if rec.Ops == nil || rec.Ops.Read == nil {
		return -1, ErrUnsupported
	}
	return rec.Ops.Read(buf)
}

// Write dispatches through fid's vtable, returning ErrUnsupported if
// the stream has no Write entry.
func (t *Table) Write(fid int, buf []byte) (int, error) {
	rec, err := t.Get(fid)
	if err != nil {
		return -1, err
	}
	if rec.Ops == nil || rec.Ops.Write == nil {
		return -1, ErrUnsupported
	}
	return rec.Ops.Write(buf)
}

// Close runs DecRef(fid) directly; present for symmetry with
// Read/Write so callers needn't know DecRef also does the closing.
func (t *Table) Close(fid int) error {
	return t.DecRef(fid)
}

// Each walks every occupied slot, calling fn(fid, rec). Used by
// process teardown to decref every fid in the table.
func (t *Table) Each(fn func(fid int, rec *Record)) {
	t.mu.Lock()
	snapshot := make([]*Record, len(t.slots))
	copy(snapshot, t.slots)
	t.mu.Unlock()

	for fid, rec := range snapshot {
		if rec != nil {
			fn(fid, rec)
		}
	}
}

// Size returns the fixed capacity of the table (MAX_FILEID).
func (t *Table) Size() int { return len(t.slots) }

// HasFree reports whether at least one slot is unoccupied.
func (t *Table) HasFree() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if s == nil {
			return true
		}
	}
	return false
}

func safeIndex(slots []*Record, fid int) int {
	if fid < 0 || fid >= len(slots) {
		return 0
	}
	return fid
}
