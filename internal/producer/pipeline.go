//go:build !windows

// Package producer implements splitpipe's core state machine: read
// stdin into a RingBuffer, prebuffer before the first writer launch,
// spawn a ChildWriter per Volume, emit header/Data/checksum/EOF
// stretches in the fixed order spec.md §3 requires, and roll over to
// the next Volume when the operator has swapped media. Grounded on the
// single while(1) select() loop in
// _examples/original_source/splitpipe/splitpipe.cc, generalized from a
// raw byte copy into the framed, session-aware protocol.
package producer

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/netherlabs/splitpipe/internal/child"
	"github.com/netherlabs/splitpipe/internal/digest"
	"github.com/netherlabs/splitpipe/internal/mux"
	"github.com/netherlabs/splitpipe/internal/ringbuf"
	"github.com/netherlabs/splitpipe/internal/session"
	"github.com/netherlabs/splitpipe/internal/sizes"
	"github.com/netherlabs/splitpipe/internal/status"
	"github.com/netherlabs/splitpipe/internal/wire"
)

// State names one node of the producer's state machine, per spec.md §4.7.
type State int

const (
	StateDead State = iota
	StatePrebuffering
	StateWorking
	StateWaitingOperator
	StateDying
	StateSessionClosing
	StateDone
)

// ErrInterrupted is returned by Run when a break was requested and the
// pipeline reached a point with no live writer: before the first
// Volume, between Volumes, or while waiting on the operator.
var ErrInterrupted = errors.New("producer: interrupted")

// pendingFrame is a partially-sent buffer of one or more concatenated
// wire frames, flushed a non-blocking write at a time. Using one
// buffer-and-offset per logical burst (rather than one pendingFrame per
// wire.Frame) keeps the strict per-Volume header order trivial: the
// whole header burst is queued as a single buffer.
type pendingFrame struct {
	buf        []byte
	off        int
	onComplete func()
}

// Pipeline drives one splitpipe session end to end.
type Pipeline struct {
	Output          string
	Label           string
	NoPrompt        bool
	RetrySameVolume bool
	BufferBytes     int
	VolumeBudget    uint64
	Sink            status.Sink

	ring   *ringbuf.RingBuffer
	digest *digest.Runner
	sess   session.Identity

	state       State
	firstVolume bool
	breakFlag   bool

	stdinFD   int
	stdinEOF  bool
	ttyFile   *os.File
	ttyWanted bool

	writer            *child.Writer
	volumeNumber      uint16
	bytesEmitted      uint64
	stretchRemaining  uint64
	dataOpenedThisVol bool
	spawnErr          error

	totalBytesIn  uint64
	totalBytesOut uint64
	volBackoff    *backoff.ExponentialBackOff

	pending *pendingFrame
}

// New constructs a Pipeline ready to Run. stdinFD must already be in
// non-blocking mode (cmd/splitpipe does this once at startup).
func New(stdinFD int, bufferBytes int, volumeBudget uint64, output, label string, noPrompt, retrySameVolume bool, sha1 bool, sink status.Sink) (*Pipeline, error) {
	id, err := session.New()
	if err != nil {
		return nil, errors.Wrap(err, "producer: generating session identity")
	}

	var opts []digest.Option
	if sha1 {
		opts = append(opts, digest.WithSHA1(true))
	}

	return &Pipeline{
		Output:          output,
		Label:           label,
		NoPrompt:        noPrompt,
		RetrySameVolume: retrySameVolume,
		BufferBytes:     bufferBytes,
		VolumeBudget:    volumeBudget,
		Sink:            sink,
		ring:            ringbuf.New(bufferBytes),
		digest:          digest.New(opts...),
		sess:            id,
		state:           StateDead,
		firstVolume:     true,
		stdinFD:         stdinFD,
		volBackoff:      backoff.NewExponentialBackOff(),
	}, nil
}

// RequestBreak asks the pipeline to wind down at the next opportunity,
// matching spec.md §5's SIGINT handling.
func (p *Pipeline) RequestBreak() {
	p.breakFlag = true
}

// Run drives the state machine to completion, returning nil on a clean
// SessionEOF and a non-nil error on any fatal condition.
func (p *Pipeline) Run() error {
	for {
		if p.breakFlag && (p.state == StateWaitingOperator || p.state == StateDead || p.state == StatePrebuffering) {
			p.state = StateSessionClosing
		}

		switch p.state {
		case StateDone:
			return p.spawnErr
		case StateSessionClosing:
			return p.closeOnBreak()
		}

		if p.state == StateDead || p.state == StatePrebuffering {
			p.reconcilePrebuffer()
		}
		if p.state == StateWaitingOperator && p.NoPrompt {
			p.enterWorking()
		}
		if p.state == StateDying {
			if p.reapIfExited() {
				p.bytesEmitted = 0
				p.state = StateDead
				p.volBackoff.Reset()
				continue
			}
		}

		if err := p.iterate(); err != nil {
			return err
		}
	}
}

func (p *Pipeline) reconcilePrebuffer() {
	if p.stdinEOF || p.ring.FillRatio() > 0.5 {
		if p.firstVolume {
			p.enterWorking()
		} else {
			p.state = StateWaitingOperator
			p.ttyWanted = false
		}
		return
	}
	p.state = StatePrebuffering
}

func (p *Pipeline) enterWorking() {
	w, err := child.Spawn(p.Output)
	if err != nil {
		// A spawn failure before any Volume has a running child is
		// treated the same as a fatal write error: there is nothing
		// to reap or drain yet.
		p.state = StateDone
		p.spawnErr = errors.Wrap(err, "producer: spawning writer command")
		return
	}
	p.writer = w
	p.firstVolume = false
	p.dataOpenedThisVol = false

	buf := p.encodeHeaderBurst()
	p.bytesEmitted = uint64(len(buf))
	p.pending = &pendingFrame{buf: buf}
	p.state = StateWorking

	p.Sink.Log("producer: Volume %d online", p.volumeNumber)
}

func (p *Pipeline) encodeHeaderBurst() []byte {
	var out []byte

	f, _ := wire.EncodeFrame(wire.SessionUUID, p.sess.Bytes())
	out = append(out, f...)

	dateBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(dateBuf, uint32(time.Now().Unix()))
	f, _ = wire.EncodeFrame(wire.VolumeDate, dateBuf)
	out = append(out, f...)

	if p.Label != "" {
		f, _ = wire.EncodeFrame(wire.SessionName, []byte(p.Label))
		out = append(out, f...)
	}

	numBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(numBuf, p.volumeNumber)
	f, _ = wire.EncodeFrame(wire.VolumeNumber, numBuf)
	out = append(out, f...)

	p.volumeNumber++
	return out
}

func (p *Pipeline) iterate() error {
	if p.spawnErr != nil {
		return p.spawnErr
	}

	readFDs, writeFDs := p.interestSets()
	ready, err := mux.Wait(readFDs, writeFDs)
	if err != nil {
		return err
	}

	if p.writer != nil {
		stdoutFD, stderrFD := p.writer.StdoutFD(), p.writer.StderrFD()
		if ready.IsReadable(stdoutFD) || ready.IsReadable(stderrFD) {
			out, errOut := p.writer.DrainDiag()
			if len(out) > 0 {
				p.Sink.Log("writer stdout: %s", out)
			}
			if len(errOut) > 0 {
				p.Sink.Log("writer stderr: %s", errOut)
			}
		}
	}

	if p.ttyWanted && p.ttyFile != nil && ready.IsReadable(int(p.ttyFile.Fd())) {
		p.consumeOperatorKeypress()
	}

	if !p.stdinEOF && ready.IsReadable(p.stdinFD) {
		if err := p.readStdin(); err != nil {
			return err
		}
	}

	if p.writer != nil && ready.IsWritable(p.writer.StdinFD()) {
		if err := p.writeStep(); err != nil {
			return err
		}
	}

	if p.state == StateWorking {
		p.reconcileWorking()
	}

	p.reportStatus()

	return nil
}

// reportStatus emits one StatusSink update per multiplexer tick, the
// core-side half of C9/§4.6: ConsoleSink rate-limits SetBufferPercent to
// actual percent changes and SetTotals to once per wall-clock second, so
// calling these unconditionally here is safe and keeps this loop from
// having to duplicate that throttling.
func (p *Pipeline) reportStatus() {
	pct := int(p.ring.FillRatio() * 100)
	p.Sink.SetBufferPercent(pct)

	var volPct int
	if p.VolumeBudget > 0 {
		volPct = int(p.bytesEmitted * 100 / p.VolumeBudget)
		if volPct > 100 {
			volPct = 100
		}
	}
	p.Sink.SetTotals(p.totalBytesIn, p.totalBytesOut, uint64(p.ring.Available()), volPct)
	p.Sink.Refresh()
}

func (p *Pipeline) interestSets() (readFDs, writeFDs []int) {
	if p.state == StateWaitingOperator {
		p.ensureTTY()
	}

	ttyFD := -1
	if p.ttyFile != nil {
		ttyFD = int(p.ttyFile.Fd())
	}

	reads := []mux.Interest{
		{FD: p.stdinFD, Want: !p.stdinEOF && p.ring.Room() > 0},
		{FD: ttyFD, Want: p.state == StateWaitingOperator && p.ttyFile != nil},
		{FD: writerStdoutFD(p.writer), Want: p.writer != nil},
		{FD: writerStderrFD(p.writer), Want: p.writer != nil},
	}
	writes := []mux.Interest{
		{FD: writerStdinFD(p.writer), Want: p.state == StateWorking && p.writer != nil &&
			(p.pending != nil || p.stretchRemaining > 0 || p.volumeRoom() >= 4)},
	}
	return mux.Selected(reads), mux.Selected(writes)
}

func writerStdinFD(w *child.Writer) int {
	if w == nil {
		return -1
	}
	return w.StdinFD()
}

func writerStdoutFD(w *child.Writer) int {
	if w == nil {
		return -1
	}
	return w.StdoutFD()
}

func writerStderrFD(w *child.Writer) int {
	if w == nil {
		return -1
	}
	return w.StderrFD()
}

func (p *Pipeline) ensureTTY() {
	if p.ttyFile != nil || p.ttyWanted {
		return
	}
	p.ttyWanted = true

	if !term.IsTerminal(int(os.Stderr.Fd())) {
		p.Sink.Log("producer: no controlling terminal available, continuing without operator prompt")
		p.enterWorking()
		return
	}

	f, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
	if err != nil {
		p.Sink.Log("producer: could not open /dev/tty for operator prompt: %v", err)
		p.enterWorking()
		return
	}
	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		f.Close()
		p.Sink.Log("producer: could not set /dev/tty non-blocking: %v", err)
		return
	}
	p.ttyFile = f
}

func (p *Pipeline) consumeOperatorKeypress() {
	buf := make([]byte, 80)
	n, err := unix.Read(int(p.ttyFile.Fd()), buf)
	if err != nil || n <= 0 {
		return
	}
	p.ttyFile.Close()
	p.ttyFile = nil
	p.ttyWanted = false
	p.enterWorking()
}

func (p *Pipeline) readStdin() error {
	buf := make([]byte, minInt(65536, p.ring.Room()))
	n, err := unix.Read(p.stdinFD, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "producer: reading stdin")
	}
	if n == 0 {
		p.stdinEOF = true
		return nil
	}
	if err := p.ring.Store(buf[:n]); err != nil {
		return errors.Wrap(err, "producer: storing stdin bytes")
	}
	p.totalBytesIn += uint64(n)
	return nil
}

func (p *Pipeline) volumeRoom() uint64 {
	if p.bytesEmitted >= p.VolumeBudget {
		return 0
	}
	return p.VolumeBudget - p.bytesEmitted
}

// writeStep performs exactly one non-blocking write: flushing pending
// header/trailer bytes if any are queued, else streaming Data payload
// straight from the RingBuffer.
func (p *Pipeline) writeStep() error {
	if p.pending != nil {
		n, err := p.writer.TryWrite(p.pending.buf[p.pending.off:])
		if err != nil {
			if err == child.ErrWouldBlock {
				return nil
			}
			return errors.Wrap(err, "producer: writing to child stdin")
		}
		p.pending.off += n
		if p.pending.off == len(p.pending.buf) {
			done := p.pending.onComplete
			p.pending = nil
			if done != nil {
				done()
			}
		}
		return nil
	}

	if p.stretchRemaining == 0 {
		return nil
	}

	window := p.ring.GetReadWindow()
	want := uint64(len(window))
	if p.stretchRemaining < want {
		want = p.stretchRemaining
	}
	if vr := p.volumeRoom(); vr < want {
		want = vr
	}
	if want == 0 {
		return nil
	}

	n, err := p.writer.TryWrite(window[:want])
	if err != nil {
		if err == child.ErrWouldBlock {
			return nil
		}
		if err == child.ErrClosedEarly {
			return errors.New("producer: writer command closed its stdin early (ChildClosedEarly)")
		}
		return errors.Wrap(err, "producer: writing Data payload")
	}

	p.digest.Feed(window[:n])
	if err := p.ring.Advance(n); err != nil {
		return errors.Wrap(err, "producer: advancing ring buffer")
	}
	p.bytesEmitted += uint64(n)
	p.totalBytesOut += uint64(n)
	p.stretchRemaining -= uint64(n)
	p.dataOpenedThisVol = true
	return nil
}

// reconcileWorking opens new Data stretches and detects Volume-full /
// Session-done conditions, per spec.md §4.7.
func (p *Pipeline) reconcileWorking() {
	if p.pending != nil || p.stretchRemaining > 0 {
		return
	}

	vr := p.volumeRoom()

	if vr >= 4 && p.ring.Available() > 0 {
		length := minU64(65535, uint64(p.ring.Available()))
		if length > vr-3 {
			length = vr - 3
		}
		hdr := make([]byte, wire.HeaderSize)
		binary.BigEndian.PutUint16(hdr[0:2], uint16(length))
		hdr[2] = byte(wire.Data)
		p.pending = &pendingFrame{buf: hdr}
		p.pendingOpensStretch(length)
		return
	}

	if vr < 4 {
		// Too little budget left to open even a one-byte Data stretch
		// (3-byte header + >=1 payload byte): roll over now rather than
		// stall waiting for vr to reach exactly 0, per spec.md §8's
		// "room becomes exactly 3 bytes" boundary case.
		p.finishVolume(wire.VolumeEOF, StateDying)
		return
	}

	if p.stdinEOF && p.ring.Available() == 0 {
		p.finishVolume(wire.SessionEOF, StateDone)
	}
}

// pendingOpensStretch wires the header pendingFrame's completion to
// begin the Data stretch payload phase.
func (p *Pipeline) pendingOpensStretch(length uint64) {
	p.pending.onComplete = func() {
		p.bytesEmitted += 3
		p.stretchRemaining = length
		p.volBackoff.Reset()
	}
}

func (p *Pipeline) finishVolume(eofType wire.FrameType, next State) {
	sum := p.digest.MD5()
	var out []byte
	f, _ := wire.EncodeFrame(wire.MD5Checksum, sum)
	out = append(out, f...)
	if p.digest.HasSHA1() {
		f, _ = wire.EncodeFrame(wire.SHA1Checksum, p.digest.SHA1())
		out = append(out, f...)
	}
	f, _ = wire.EncodeFrame(eofType, nil)
	out = append(out, f...)

	p.pending = &pendingFrame{buf: out, onComplete: func() {
		if err := p.writer.CloseInput(); err != nil {
			p.Sink.Log("producer: closing writer stdin: %v", err)
		}
		p.state = next
		if next == StateDone {
			p.awaitFinalExit()
		}
	}}
}

func (p *Pipeline) awaitFinalExit() {
	p.writer.PollExit(true)
	for !p.writer.DiagDrained() {
		p.writer.DrainDiag()
	}
	p.writer.Close()
}

// reapIfExited polls the dying writer non-blockingly. It returns false
// while the child is still running, or true once it has exited and its
// diagnostic pipes are drained and the Run loop should roll over to
// StateDead for the normal prebuffer/launch decision. When a retry is
// in flight it instead re-enters StateWorking itself and returns false,
// so the caller leaves its state transition alone.
func (p *Pipeline) reapIfExited() bool {
	res, ok := p.writer.PollExit(false)
	if !ok {
		p.writer.DrainDiag()
		return false
	}
	for !p.writer.DiagDrained() {
		p.writer.DrainDiag()
	}
	abnormal := !res.Normal()
	if abnormal {
		p.Sink.Log("producer: writer command exited abnormally (code=%d signal=%q)", res.ExitCode, res.Signal)
	}
	p.writer.Close()
	p.writer = nil

	if abnormal && p.RetrySameVolume && !p.dataOpenedThisVol {
		p.retryVolume()
		return false
	}
	return true
}

// retryVolume re-spawns the writer for the same Volume number when
// only header stretches had been written, per SPEC_FULL.md §3.7. It
// backs off between attempts by calling NextBackOff() on the Pipeline's
// single shared ExponentialBackOff, so consecutive failed attempts at
// the same Volume actually see a growing interval instead of repeating
// the initial one; the backoff is reset (in pendingOpensStretch and on
// Dying->Dead) once real forward progress is made, so the next Volume
// starts its own retries from the initial interval again. A retry
// re-enters StateWorking directly: it skips the operator prompt since
// no media swap is needed to re-run the same Volume.
func (p *Pipeline) retryVolume() {
	d := p.volBackoff.NextBackOff()
	if d > 0 {
		time.Sleep(d)
	}
	p.bytesEmitted = 0
	p.volumeNumber--
	p.Sink.Log("producer: retrying Volume %d", p.volumeNumber)
	p.enterWorking()
}

func (p *Pipeline) closeOnBreak() error {
	if p.writer != nil {
		if p.pending != nil {
			// best effort: drop the half-sent trailer, the session is
			// being abandoned anyway.
			p.pending = nil
		}
		p.writer.CloseInput()
		p.writer.PollExit(true)
		for !p.writer.DiagDrained() {
			p.writer.DrainDiag()
		}
		p.writer.Close()
	}
	return ErrInterrupted
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// DefaultVolumeBudget resolves a configured volume size token into the
// byte budget ProducerPipeline should enforce, after reserving trailing
// metadata space, per spec.md §4.7.
func DefaultVolumeBudget(token string) (uint64, error) {
	n, err := sizes.ParseVolumeSize(token)
	if err != nil {
		return 0, err
	}
	return sizes.BudgetedVolumeSize(n), nil
}
