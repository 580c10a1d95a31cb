//go:build !windows

// Package integration drives a real ProducerPipeline and
// ConsumerPipeline against each other through a named pipe, the one
// place in this repo where the producer and the consumer run
// concurrently rather than being exercised in isolation against
// pre-built fixture files.
package integration

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/netherlabs/splitpipe/internal/consumer"
	"github.com/netherlabs/splitpipe/internal/producer"
	"github.com/netherlabs/splitpipe/internal/status"
)

// TestProducerConsumerRoundTripOverFIFO wires splitpipe's output
// straight into joinpipe's input via a FIFO instead of a completed
// file on disk: the child writer and the consumer's reader rendezvous
// on the same named pipe, so the two pipelines must actually run
// concurrently for this to complete instead of deadlock.
func TestProducerConsumerRoundTripOverFIFO(t *testing.T) {
	dir := t.TempDir()
	fifo := dir + "/vol0"
	require.NoError(t, unix.Mkfifo(fifo, 0o600))

	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	defer stdinR.Close()

	payload := []byte("streamed straight through a named pipe, no intermediate file")
	_, err = stdinW.Write(payload)
	require.NoError(t, err)
	require.NoError(t, stdinW.Close())

	prod, err := producer.New(int(stdinR.Fd()), 4096, 1_000_000, "cat > "+fifo, "", true, false, false, status.NoopSink{})
	require.NoError(t, err)

	var out bytes.Buffer
	cons := &consumer.Pipeline{Sources: []string{fifo}, NoPrompt: true, Sink: status.NoopSink{}, Out: &out}

	var g errgroup.Group
	g.Go(prod.Run)
	g.Go(cons.Run)
	require.NoError(t, g.Wait())

	require.Equal(t, payload, out.Bytes())
}
