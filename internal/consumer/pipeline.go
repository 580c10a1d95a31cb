// Package consumer implements joinpipe's decode loop: open one or more
// Volume sources in order, decode frames via wire.Decoder, validate
// session/volume identity, write reconstructed Data payload to stdout,
// and verify the running digest at each MD5Checksum frame. Grounded
// directly on the single for(;;) readn/dispatch loop in
// _examples/original_source/splitpipe/joinpipe.cc, generalized from raw
// stretchHeader structs to the wire.Decoder state machine and from a
// bare MD5Summer to internal/digest.Runner.
package consumer

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/netherlabs/splitpipe/internal/digest"
	"github.com/netherlabs/splitpipe/internal/session"
	"github.com/netherlabs/splitpipe/internal/status"
	"github.com/netherlabs/splitpipe/internal/wire"
)

// Pipeline drives one joinpipe run to completion.
type Pipeline struct {
	Sources  []string // volume paths in order; empty means read every Volume from one continuous stdin stream
	NoPrompt bool
	SHA1     bool
	Sink     status.Sink
	Out      io.Writer

	totalBytesIn  uint64
	totalBytesOut uint64
}

// Run decodes every Volume across Sources (or stdin) and returns nil
// once SessionEOF is seen, or a descriptive error for any of the fatal
// conditions spec.md §7 names.
func (p *Pipeline) Run() error {
	streamStdin := len(p.Sources) == 0

	idx := 0
	var f *os.File
	var err error
	if streamStdin {
		f = os.Stdin
	} else {
		f, err = os.Open(p.Sources[idx])
		if err != nil {
			return errors.Wrapf(err, "joinpipe: opening volume %q", p.Sources[idx])
		}
	}

	var digestOpts []digest.Option
	if p.SHA1 {
		digestOpts = append(digestOpts, digest.WithSHA1(true))
	}
	dig := digest.New(digestOpts...)
	decoder := wire.NewDecoder()

	var sessionID session.Identity
	haveSession := false
	var expectedVolume uint16

	buf := make([]byte, 65536)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			p.totalBytesIn += uint64(n)
			for _, fr := range decoder.Feed(buf[:n]) {
				switch fr.Type {
				case wire.SessionUUID:
					id, err := session.FromBytes(fr.Payload)
					if err != nil {
						closeIfOwned(f, streamStdin)
						return errors.Wrap(err, "joinpipe: decoding SessionUUID")
					}
					if !haveSession {
						sessionID = id
						haveSession = true
						p.Sink.Log("joinpipe: session UUID is %x", sessionID.Bytes())
					} else if !sessionID.Equal(id) {
						closeIfOwned(f, streamStdin)
						return errors.Errorf("joinpipe: WrongSession: volume UUID %x does not match session UUID %x", id.Bytes(), sessionID.Bytes())
					}

				case wire.VolumeDate:
					if len(fr.Payload) == 4 {
						t := time.Unix(int64(binary.BigEndian.Uint32(fr.Payload)), 0).UTC()
						p.Sink.Log("joinpipe: volume date %s", t.Format(time.RFC3339))
					}

				case wire.SessionName:
					p.Sink.Log("joinpipe: session label %q", fr.Payload)

				case wire.VolumeNumber:
					if len(fr.Payload) != 2 {
						closeIfOwned(f, streamStdin)
						return errors.New("joinpipe: malformed VolumeNumber payload")
					}
					got := binary.BigEndian.Uint16(fr.Payload)
					if got != expectedVolume {
						closeIfOwned(f, streamStdin)
						return errors.Errorf("joinpipe: WrongVolume: saw volume %d, expected %d", got, expectedVolume)
					}
					p.Sink.Log("joinpipe: found volume %d, as expected", got)
					expectedVolume++

				case wire.Data:
					if err := writeFull(p.Out, fr.Payload); err != nil {
						closeIfOwned(f, streamStdin)
						return errors.Wrap(err, "joinpipe: writing reconstructed payload")
					}
					dig.Feed(fr.Payload)
					p.totalBytesOut += uint64(len(fr.Payload))
					p.Sink.SetTotals(p.totalBytesIn, p.totalBytesOut, 0, 0)
					p.Sink.Refresh()

				case wire.MD5Checksum:
					sum := dig.MD5()
					if !bytesEqual(sum, fr.Payload) {
						closeIfOwned(f, streamStdin)
						return errors.Errorf("joinpipe: ChecksumMismatch: running MD5 %x, frame says %x", sum, fr.Payload)
					}
					p.Sink.Log("joinpipe: running checksum correct")

				case wire.SHA1Checksum:
					if dig.HasSHA1() {
						sum := dig.SHA1()
						if !bytesEqual(sum, fr.Payload) {
							closeIfOwned(f, streamStdin)
							return errors.Errorf("joinpipe: SHA1 checksum mismatch: running %x, frame says %x", sum, fr.Payload)
						}
					}

				case wire.VolumeEOF:
					p.Sink.Log("joinpipe: end of volume, change media and press enter")
					if streamStdin {
						if !p.NoPrompt {
							if err := waitForOperator(); err != nil {
								return err
							}
						}
						continue
					}

					f.Close()
					if !p.NoPrompt {
						if err := waitForOperator(); err != nil {
							return err
						}
					}
					if idx+1 < len(p.Sources) {
						idx++
					}
					nf, err := os.Open(p.Sources[idx])
					if err != nil {
						return errors.Wrapf(err, "joinpipe: opening volume %q", p.Sources[idx])
					}
					f = nf

				case wire.SessionEOF:
					p.Sink.Log("joinpipe: end of session")
					closeIfOwned(f, streamStdin)
					return nil

				default:
					p.Sink.Log("joinpipe: unknown frame type %d, %d bytes\n%s", fr.Type, len(fr.Payload), hex.Dump(fr.Payload))
				}
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				closeIfOwned(f, streamStdin)
				return errors.New("joinpipe: UnexpectedEOF: input ended before SessionEOF")
			}
			closeIfOwned(f, streamStdin)
			return errors.Wrap(rerr, "joinpipe: reading volume")
		}
	}
}

func closeIfOwned(f *os.File, streamStdin bool) {
	if !streamStdin {
		f.Close()
	}
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// waitForOperator blocks for one line on /dev/tty, matching the
// fopen("/dev/tty","r")+fgets pair in
// _examples/original_source/splitpipe/splitpipe.cc's waitForUser.
func waitForOperator() error {
	f, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
	if err != nil {
		return errors.Wrap(err, "joinpipe: opening /dev/tty for operator prompt")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	_, _ = r.ReadString('\n')
	return nil
}
