// Package kernel implements the core of a small educational operating
// system: process and thread lifecycle, byte-oriented pipes, and
// stream sockets built on top of those pipes, sharing one stream/
// file-descriptor abstraction and one cooperative synchronization
// primitive.
//
// The CPU scheduler, the file-descriptor reservation layer, the boot/
// idle task, the shell, and general-purpose memory allocation are all
// treated as external collaborators; this package consumes them
// through the sched and fcb packages rather than owning them.
package kernel

const (
	// MaxProc bounds the process table (PCB arena).
	MaxProc = 256
	// MaxFileID bounds the per-process fid table.
	MaxFileID = 64
	// MaxPort bounds the port map; ports are 1..MaxPort.
	MaxPort = 1024
	// NoPort marks a socket that hasn't bound a port.
	NoPort = 0
	// PipeBufferSize is the pipe's circular buffer capacity. The
	// full-buffer threshold uses this value directly and undivided.
	PipeBufferSize = 4000
	// ProcInfoMaxArgsSize bounds the args snapshot copied into each
	// ProcInfoRecord.
	ProcInfoMaxArgsSize = 256

	// InitPid is the reparenting target for orphaned processes.
	InitPid = 1
	// IdlePid is the boot/idle process; parentless like InitPid.
	IdlePid = 0
	// NoProc is returned/accepted in place of a pid to mean "no
	// particular process" (WaitChild's wildcard) or "no such
	// process" as an error sentinel.
	NoProc = -1
)

// ShutdownHow selects which half of a Peer socket ShutDown closes.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// Sentinel fid/tid/pid error values.
const (
	NoFile   = -1
	NoThread = -1
)
