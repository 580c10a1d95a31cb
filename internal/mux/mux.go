//go:build !windows

// Package mux implements the single-threaded cooperative readiness loop
// the producer pipeline drives: a select(2)-based wait over up to five
// descriptors (stdin, the child's stdin/stdout/stderr, and /dev/tty),
// re-expressing the select() loop in
// _examples/original_source/splitpipe/splitpipe.cc with
// golang.org/x/sys/unix so EAGAIN/EINTR stay first-class return values
// instead of being hidden behind Go's blocking net/os I/O.
package mux

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Tick bounds how long Wait may block so callers observe their
// break-requested flag and refresh the StatusSink promptly, per
// spec.md §4.6.
const Tick = 10 * time.Millisecond

// Interest describes which descriptors to watch on the next Wait call.
// A zero value (fd == 0 is a legitimate descriptor) is distinguished by
// the Want bool, so callers can leave a slot unused without picking a
// sentinel fd.
type Interest struct {
	FD   int
	Want bool
}

// Ready reports which watched descriptors were readable/writable after
// a Wait call returns.
type Ready struct {
	Readable map[int]bool
	Writable map[int]bool
}

func (r Ready) IsReadable(fd int) bool { return r.Readable[fd] }
func (r Ready) IsWritable(fd int) bool { return r.Writable[fd] }

// Wait blocks for up to Tick waiting for any of readFDs to become
// readable or any of writeFDs to become writable, retrying internally
// on EINTR as spec.md §4.6/§5 requires. A Ready whose (non-nil) maps
// are empty (and no error) means the tick elapsed with nothing
// ready — callers should reconcile their state machine and loop.
func Wait(readFDs, writeFDs []int) (Ready, error) {
	for {
		var rset, wset unix.FdSet
		maxFD := 0

		for _, fd := range readFDs {
			fdSet(&rset, fd)
			if fd > maxFD {
				maxFD = fd
			}
		}
		for _, fd := range writeFDs {
			fdSet(&wset, fd)
			if fd > maxFD {
				maxFD = fd
			}
		}

		tv := unix.NsecToTimeval(Tick.Nanoseconds())
		n, err := unix.Select(maxFD+1, &rset, &wset, nil, &tv)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return Ready{}, errors.Wrap(err, "mux: select")
		}

		ready := Ready{Readable: make(map[int]bool), Writable: make(map[int]bool)}
		if n == 0 {
			return ready, nil
		}
		for _, fd := range readFDs {
			if fdIsSet(&rset, fd) {
				ready.Readable[fd] = true
			}
		}
		for _, fd := range writeFDs {
			if fdIsSet(&wset, fd) {
				ready.Writable[fd] = true
			}
		}
		return ready, nil
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

// Selected filters an Interest slice down to the fds that want
// watching, the small bit of bookkeeping every call site in the
// producer loop would otherwise duplicate.
func Selected(interests []Interest) []int {
	var fds []int
	for _, it := range interests {
		if it.Want {
			fds = append(fds, it.FD)
		}
	}
	return fds
}
