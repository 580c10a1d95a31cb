// Package wire implements the splitpipe/joinpipe framed wire format: a
// three-byte header (big-endian size, type tag) followed by a payload
// of up to 65535 bytes. The byte layout is modeled on
// github.com/xtaci/smux's frame.go (typed accessors over a fixed-size
// header array) though the header shape and the command set are
// specific to this protocol.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// FrameType is the one-byte tag identifying a frame's payload shape.
type FrameType uint8

const (
	SessionName  FrameType = 0
	SessionUUID  FrameType = 1
	VolumeNumber FrameType = 2
	VolumeEOF    FrameType = 3
	Data         FrameType = 4
	MD5Checksum  FrameType = 5
	SHA1Checksum FrameType = 6
	SessionEOF   FrameType = 7
	VolumeDate   FrameType = 8
)

func (t FrameType) String() string {
	switch t {
	case SessionName:
		return "SessionName"
	case SessionUUID:
		return "SessionUUID"
	case VolumeNumber:
		return "VolumeNumber"
	case VolumeEOF:
		return "VolumeEOF"
	case Data:
		return "Data"
	case MD5Checksum:
		return "MD5Checksum"
	case SHA1Checksum:
		return "SHA1Checksum"
	case SessionEOF:
		return "SessionEOF"
	case VolumeDate:
		return "VolumeDate"
	default:
		return "Unknown"
	}
}

// HeaderSize is the fixed three-byte header: size(u16 BE) + type(u8).
const HeaderSize = 3

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = 65535

// Frame is one decoded wire record.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// EncodeFrame returns the three-byte header followed by payload as a
// single buffer, avoiding the extra syscall/Write call a
// header-then-payload pair would cost on the child's pipe.
func EncodeFrame(typ FrameType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Errorf("wire: payload of %d bytes exceeds max frame size %d", len(payload), MaxPayload)
	}
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(payload)))
	out[2] = byte(typ)
	copy(out[3:], payload)
	return out, nil
}

// decoderState names the pull-parser's current phase.
type decoderState int

const (
	stateAwaitHeader decoderState = iota
	stateAwaitPayload
)

// Decoder is a pull-style incremental frame parser: callers feed it
// arbitrarily-sized chunks (whatever a non-blocking read produced) and
// it returns every frame completed by that chunk. Unknown frame types
// are returned to the caller rather than dropped, per spec.
type Decoder struct {
	state   decoderState
	hdrbuf  [HeaderSize]byte
	hdrfill int

	size    uint16
	typ     FrameType
	payload []byte
	filled  int
}

// NewDecoder returns a fresh Decoder awaiting the start of a frame.
func NewDecoder() *Decoder {
	return &Decoder{state: stateAwaitHeader}
}

// Feed consumes chunk and returns every frame it completed, in order.
// It never returns an error for malformed headers (an unrecognized type
// tag is still a well-formed frame at the wire level); callers dispatch
// on Frame.Type and handle unknown tags themselves, matching the
// source's tolerant behavior described in spec.md.
func (d *Decoder) Feed(chunk []byte) []Frame {
	var out []Frame
	for len(chunk) > 0 {
		switch d.state {
		case stateAwaitHeader:
			n := copy(d.hdrbuf[d.hdrfill:], chunk)
			d.hdrfill += n
			chunk = chunk[n:]
			if d.hdrfill == HeaderSize {
				d.size = binary.BigEndian.Uint16(d.hdrbuf[0:2])
				d.typ = FrameType(d.hdrbuf[2])
				d.hdrfill = 0
				if d.size == 0 {
					out = append(out, Frame{Type: d.typ})
					d.state = stateAwaitHeader
				} else {
					d.payload = make([]byte, d.size)
					d.filled = 0
					d.state = stateAwaitPayload
				}
			}
		case stateAwaitPayload:
			n := copy(d.payload[d.filled:], chunk)
			d.filled += n
			chunk = chunk[n:]
			if d.filled == int(d.size) {
				out = append(out, Frame{Type: d.typ, Payload: d.payload})
				d.payload = nil
				d.state = stateAwaitHeader
			}
		}
	}
	return out
}

// Pending reports whether the decoder is mid-frame (useful for the
// consumer's truncated-stream detection: EOF while Pending() is true,
// or while no SessionEOF has been seen, is spec.md's UnexpectedEOF).
func (d *Decoder) Pending() bool {
	return d.hdrfill != 0 || d.state == stateAwaitPayload
}
