package kernel

import (
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"
)

// Internal error kinds. A failing syscall-facing method returns its
// sentinel (-1/NoFile/NoProc/NoThread) where it has a value result,
// together with an error built from one of these kinds; most paths
// wrap and log that error via logWrap first.
var (
	errInvalidArgument   = errors.New("invalid argument")
	errResourceExhausted = errors.New("resource exhausted")
	errStateViolation    = errors.New("state violation")
	errPeerClosed        = errors.New("peer closed")
	errTimeout           = errors.New("timeout")
	errNotFound          = errors.New("not found")
)

// logger is the package-level diagnostic sink. SetLogger lets a caller
// (cmd/kerneldemo, or a test) redirect it;
// by default it uses the same `log.SetFlags(log.LstdFlags |
// log.Lshortfile)` convention cmd/kerneldemo applies for self-built
// binaries.
var logger = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)

// SetLogger overrides the package-level logger.
func SetLogger(l *log.Logger) {
	if l != nil {
		logger = l
	}
}

func logWrap(err error, msg string) error {
	wrapped := errors.Wrap(err, msg)
	logger.Printf("%+v", wrapped)
	return wrapped
}

// Fatal logs msg (wrapped with pkg/errors context) and panics. It is
// reserved for an impossible-invariant case (e.g. the idle process
// failing to land on pid 0); nothing else in this package aborts the
// process.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	err := errors.New(msg)
	logger.Printf("FATAL: %+v", err)
	panic(err)
}
