package consumer

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netherlabs/splitpipe/internal/digest"
	"github.com/netherlabs/splitpipe/internal/session"
	"github.com/netherlabs/splitpipe/internal/status"
	"github.com/netherlabs/splitpipe/internal/wire"
)

func mustFrame(t *testing.T, typ wire.FrameType, payload []byte) []byte {
	t.Helper()
	raw, err := wire.EncodeFrame(typ, payload)
	require.NoError(t, err)
	return raw
}

func volumeNumberPayload(n uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, n)
	return b
}

func writeVolumeFile(t *testing.T, dir, name string, frames [][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		buf.Write(f)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func buildSingleVolumeSession(t *testing.T, payload []byte, sha1 bool) (string, session.Identity) {
	t.Helper()
	id, err := session.New()
	require.NoError(t, err)

	var sha1Opts []digest.Option
	if sha1 {
		sha1Opts = append(sha1Opts, digest.WithSHA1(true))
	}
	dig := digest.New(sha1Opts...)
	dig.Feed(payload)

	var frames [][]byte
	frames = append(frames, mustFrame(t, wire.SessionUUID, id.Bytes()))
	frames = append(frames, mustFrame(t, wire.VolumeNumber, volumeNumberPayload(0)))
	frames = append(frames, mustFrame(t, wire.Data, payload))
	frames = append(frames, mustFrame(t, wire.MD5Checksum, dig.MD5()))
	if sha1 {
		frames = append(frames, mustFrame(t, wire.SHA1Checksum, dig.SHA1()))
	}
	frames = append(frames, mustFrame(t, wire.SessionEOF, nil))

	dir := t.TempDir()
	path := writeVolumeFile(t, dir, "vol0", frames)
	return path, id
}

func TestSingleVolumeRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	path, _ := buildSingleVolumeSession(t, payload, false)

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{path}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}
	require.NoError(t, p.Run())
	require.Equal(t, payload, out.Bytes())
}

func TestSingleVolumeRoundTripWithSHA1(t *testing.T) {
	payload := []byte("sha1 cross-check payload")
	path, _ := buildSingleVolumeSession(t, payload, true)

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{path}, NoPrompt: true, SHA1: true, Sink: status.NoopSink{}, Out: &out}
	require.NoError(t, p.Run())
	require.Equal(t, payload, out.Bytes())
}

func TestTwoVolumeSplit(t *testing.T) {
	id, err := session.New()
	require.NoError(t, err)
	part1 := []byte("first half of the stream ")
	part2 := []byte("second half of the stream")

	dig := digest.New()
	dig.Feed(part1)
	sum1 := dig.MD5()
	dig.Feed(part2)
	sum2 := dig.MD5()

	dir := t.TempDir()
	vol0 := writeVolumeFile(t, dir, "vol0", [][]byte{
		mustFrame(t, wire.SessionUUID, id.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(0)),
		mustFrame(t, wire.Data, part1),
		mustFrame(t, wire.MD5Checksum, sum1),
		mustFrame(t, wire.VolumeEOF, nil),
	})
	vol1 := writeVolumeFile(t, dir, "vol1", [][]byte{
		mustFrame(t, wire.SessionUUID, id.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(1)),
		mustFrame(t, wire.Data, part2),
		mustFrame(t, wire.MD5Checksum, sum2),
		mustFrame(t, wire.SessionEOF, nil),
	})

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{vol0, vol1}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}
	require.NoError(t, p.Run())
	require.Equal(t, append(append([]byte{}, part1...), part2...), out.Bytes())
}

func TestWrongSessionUUIDIsFatal(t *testing.T) {
	id1, err := session.New()
	require.NoError(t, err)
	id2, err := session.New()
	require.NoError(t, err)

	dir := t.TempDir()
	vol0 := writeVolumeFile(t, dir, "vol0", [][]byte{
		mustFrame(t, wire.SessionUUID, id1.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(0)),
		mustFrame(t, wire.Data, []byte("part one")),
		mustFrame(t, wire.VolumeEOF, nil),
	})
	vol1 := writeVolumeFile(t, dir, "vol1", [][]byte{
		mustFrame(t, wire.SessionUUID, id2.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(1)),
		mustFrame(t, wire.Data, []byte("part two")),
		mustFrame(t, wire.SessionEOF, nil),
	})

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{vol0, vol1}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}
	require.Error(t, p.Run(), "mismatched session UUID across volumes must be fatal")
}

func TestWrongVolumeNumberIsFatal(t *testing.T) {
	id, err := session.New()
	require.NoError(t, err)
	dir := t.TempDir()
	// Volume 2 presented where 0 was expected.
	vol0 := writeVolumeFile(t, dir, "vol0", [][]byte{
		mustFrame(t, wire.SessionUUID, id.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(2)),
		mustFrame(t, wire.Data, []byte("oops")),
		mustFrame(t, wire.SessionEOF, nil),
	})

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{vol0}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}
	require.Error(t, p.Run(), "out-of-order volume number must be fatal")
}

func TestChecksumMismatchIsFatal(t *testing.T) {
	id, err := session.New()
	require.NoError(t, err)
	dir := t.TempDir()
	vol0 := writeVolumeFile(t, dir, "vol0", [][]byte{
		mustFrame(t, wire.SessionUUID, id.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(0)),
		mustFrame(t, wire.Data, []byte("corrupted in transit")),
		mustFrame(t, wire.MD5Checksum, make([]byte, 16)), // all-zero, guaranteed wrong
		mustFrame(t, wire.SessionEOF, nil),
	})

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{vol0}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}
	require.Error(t, p.Run(), "checksum mismatch must be fatal")
}

func TestTruncatedStreamIsFatal(t *testing.T) {
	id, err := session.New()
	require.NoError(t, err)
	dir := t.TempDir()
	// No SessionEOF, no VolumeEOF: file just ends mid-session.
	vol0 := writeVolumeFile(t, dir, "vol0", [][]byte{
		mustFrame(t, wire.SessionUUID, id.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(0)),
		mustFrame(t, wire.Data, []byte("dangling")),
	})

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{vol0}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}
	require.Error(t, p.Run(), "a stream ending before SessionEOF must be fatal")
}

func TestUnknownFrameTypeIsTolerated(t *testing.T) {
	id, err := session.New()
	require.NoError(t, err)
	payload := []byte("data survives an interleaved unknown frame")

	dig := digest.New()
	dig.Feed(payload)

	dir := t.TempDir()
	vol0 := writeVolumeFile(t, dir, "vol0", [][]byte{
		mustFrame(t, wire.SessionUUID, id.Bytes()),
		mustFrame(t, wire.VolumeNumber, volumeNumberPayload(0)),
		mustFrame(t, wire.FrameType(200), []byte("from a future version")),
		mustFrame(t, wire.Data, payload),
		mustFrame(t, wire.MD5Checksum, dig.MD5()),
		mustFrame(t, wire.SessionEOF, nil),
	})

	var out bytes.Buffer
	p := &Pipeline{Sources: []string{vol0}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}
	require.NoError(t, p.Run())
	require.Equal(t, payload, out.Bytes())
}
