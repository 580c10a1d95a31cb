//go:build !windows

// Package child owns the spawned writer command: a shell-evaluated
// sink program holding writable stdin and readable stdout/stderr, all
// three pipes put in non-blocking mode so the caller's own readiness
// loop (internal/mux) decides when to attempt I/O rather than letting
// any one descriptor block the process. Grounded on kcptun's
// generic/copy.go + generic/rawcopy_unix.go non-blocking read dance,
// generalized from "copy between two already-open net.Conns" to "own a
// freshly spawned child's three pipes," and on the EAGAIN/zero-length
// write handling in _examples/original_source/splitpipe/misc.cc's
// writen()/readn().
package child

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrWouldBlock signals the caller should return to the multiplexer and
// retry once the descriptor reports writable/readable again.
var ErrWouldBlock = errors.New("child: operation would block")

// ErrClosedEarly is the fatal condition spec.md calls ChildClosedEarly:
// a zero-length write succeeded against a pipe that should have had
// room, meaning the child's stdin end is gone.
var ErrClosedEarly = errors.New("child: writer gave EOF on its stdin pipe")

// ExitResult reports how the child process terminated.
type ExitResult struct {
	ExitCode int
	Signal   string // non-empty only if the child died by signal
	WaitErr  error  // non-nil only for errors unrelated to exit status
}

// Normal reports whether the child exited with status 0 and no signal.
func (r ExitResult) Normal() bool {
	return r.WaitErr == nil && r.Signal == "" && r.ExitCode == 0
}

// Writer owns exactly one spawned writer command and its three pipes.
// A new Writer MUST NOT be spawned for the next volume until this one's
// PollExit reports the child Exited and DrainDiag has returned EOF on
// both diagnostic pipes, per spec.md §4.5.
type Writer struct {
	cmd *exec.Cmd

	stdinW  *os.File
	stdoutR *os.File
	stderrR *os.File

	stdinFD  int
	stdoutFD int
	stderrFD int

	stdinClosed bool
	stdoutEOF   bool
	stderrEOF   bool

	mu     sync.Mutex
	exited bool
	result ExitResult
	waitCh chan ExitResult
}

// Spawn runs command via "/bin/sh -c command", exactly as
// _examples/original_source/splitpipe/splitpipe.cc's spawnOutputThread
// execs the configured output command; safe quoting of the single argv
// element is the shell's responsibility, not ours.
func Spawn(command string) (*Writer, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "child: creating stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, errors.Wrap(err, "child: creating stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.Wrap(err, "child: creating stderr pipe")
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, errors.Wrap(err, "child: launch of writer command")
	}

	// Parent keeps only its own ends of each pipe.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	stdinFD := int(stdinW.Fd())
	stdoutFD := int(stdoutR.Fd())
	stderrFD := int(stderrR.Fd())

	for _, fd := range []int{stdinFD, stdoutFD, stderrFD} {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, errors.Wrap(err, "child: setting pipe non-blocking")
		}
	}

	w := &Writer{
		cmd:      cmd,
		stdinW:   stdinW,
		stdoutR:  stdoutR,
		stderrR:  stderrR,
		stdinFD:  stdinFD,
		stdoutFD: stdoutFD,
		stderrFD: stderrFD,
		waitCh:   make(chan ExitResult, 1),
	}

	go w.reap()

	return w, nil
}

func (w *Writer) reap() {
	err := w.cmd.Wait()
	var res ExitResult
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() {
					res.Signal = ws.Signal().String()
				} else {
					res.ExitCode = ws.ExitStatus()
				}
			} else {
				res.WaitErr = err
			}
		} else {
			res.WaitErr = err
		}
	}
	w.waitCh <- res
}

// StdinFD returns the fd the multiplexer should poll for writability.
func (w *Writer) StdinFD() int { return w.stdinFD }

// StdoutFD returns the fd the multiplexer should poll for readability.
func (w *Writer) StdoutFD() int { return w.stdoutFD }

// StderrFD returns the fd the multiplexer should poll for readability.
func (w *Writer) StderrFD() int { return w.stderrFD }

// TryWrite attempts exactly one non-blocking write of p to the child's
// stdin. It never retries internally: the multiplexer owns the retry
// contract, per spec.md §9 ("no toggling").
func (w *Writer) TryWrite(p []byte) (int, error) {
	n, err := syscall.Write(w.stdinFD, p)
	if err != nil {
		if err == syscall.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, errors.Wrap(err, "child: write to writer stdin")
	}
	if n == 0 && len(p) > 0 {
		return 0, ErrClosedEarly
	}
	return n, nil
}

// CloseInput closes the writable end of the child's stdin, signaling
// EOF. This is a prerequisite to reaping, per spec.md §5. Safe to call
// more than once.
func (w *Writer) CloseInput() error {
	w.mu.Lock()
	if w.stdinClosed {
		w.mu.Unlock()
		return nil
	}
	w.stdinClosed = true
	w.mu.Unlock()

	if err := w.stdinW.Close(); err != nil {
		return errors.Wrap(err, "child: closing writer stdin")
	}
	return nil
}

// Close releases the diagnostic pipe descriptors. Callers must wait
// until DiagDrained reports true before calling this, so no readable
// data is discarded.
func (w *Writer) Close() error {
	err1 := w.stdoutR.Close()
	err2 := w.stderrR.Close()
	if err1 != nil {
		return errors.Wrap(err1, "child: closing writer stdout")
	}
	if err2 != nil {
		return errors.Wrap(err2, "child: closing writer stderr")
	}
	return nil
}

// PollExit reports the child's exit status. With blocking=false it
// never suspends the caller; with blocking=true it waits for the
// reaper goroutine to observe process exit, acceptable per spec.md §5
// since there is no more work to issue by the time it's called.
func (w *Writer) PollExit(blocking bool) (ExitResult, bool) {
	w.mu.Lock()
	if w.exited {
		res := w.result
		w.mu.Unlock()
		return res, true
	}
	w.mu.Unlock()

	if blocking {
		res := <-w.waitCh
		w.mu.Lock()
		w.exited = true
		w.result = res
		w.mu.Unlock()
		return res, true
	}

	select {
	case res := <-w.waitCh:
		w.mu.Lock()
		w.exited = true
		w.result = res
		w.mu.Unlock()
		return res, true
	default:
		return ExitResult{}, false
	}
}

// DrainDiag performs one non-blocking read attempt against each
// diagnostic pipe and returns whatever bytes were available. Once a
// pipe reports EOF its corresponding bool stays true on every later
// call.
func (w *Writer) DrainDiag() (stdout, stderr []byte) {
	if !w.stdoutEOF {
		stdout, w.stdoutEOF = drainOne(w.stdoutFD)
	}
	if !w.stderrEOF {
		stderr, w.stderrEOF = drainOne(w.stderrFD)
	}
	return stdout, stderr
}

// DiagDrained reports whether both diagnostic pipes have reported EOF,
// the precondition spec.md §4.5 sets for spawning the next Writer.
func (w *Writer) DiagDrained() bool {
	return w.stdoutEOF && w.stderrEOF
}

func drainOne(fd int) ([]byte, bool) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := syscall.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == syscall.EAGAIN {
				return out, false
			}
			return out, true
		}
		if n == 0 {
			return out, true
		}
	}
}

