// SPDX-License-Identifier: MIT

package adapters

import (
	"bufio"
	"bytes"
	"testing"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	buf        bytes.Buffer
	closeCalls int
	closeErr   error
}

func (f *fakeStream) Read(p []byte) (int, error)  { return f.buf.Read(p) }
func (f *fakeStream) Write(p []byte) (int, error) { return f.buf.Write(p) }

func (f *fakeStream) Close() error {
	f.closeCalls++

	return f.closeErr
}

func (*fakeStream) SetReadDeadline(stdlibtime.Time) error  { return nil }
func (*fakeStream) SetWriteDeadline(stdlibtime.Time) error { return nil }

func newFakeWebtransportAdapter(stream *fakeStream) *WebtransportAdapter {
	return &WebtransportAdapter{
		stream:       stream,
		reader:       bufio.NewReaderSize(stream, 1024),
		closeChannel: make(chan struct{}, 1),
		out:          make(chan []byte, outBufferSize),
	}
}

func TestWebtransportCloseAlwaysClosesTheStream(t *testing.T) {
	t.Parallel()
	stream := new(fakeStream)
	adapter := newFakeWebtransportAdapter(stream)
	require.NoError(t, adapter.Close())
	require.Equal(t, 1, stream.closeCalls)
	require.True(t, adapter.Closed())

	// Closing again is a no-op.
	require.NoError(t, adapter.Close())
	require.Equal(t, 1, stream.closeCalls)
	require.NoError(t, adapter.WriteMessage(1, []byte(`{"type":"ping"}`)))
}

func TestWebtransportCloseReportsStreamErrors(t *testing.T) {
	t.Parallel()
	stream := &fakeStream{closeErr: errors.New("stream teardown failed")}
	adapter := newFakeWebtransportAdapter(stream)
	err := adapter.Close()
	require.Error(t, err)
	require.Contains(t, err.Error(), "stream teardown failed")
	require.Equal(t, 1, stream.closeCalls)
}

func TestWebtransportCloseIgnoresCanceledStreams(t *testing.T) {
	t.Parallel()
	stream := &fakeStream{closeErr: errors.New("close called for canceled stream 42")}
	adapter := newFakeWebtransportAdapter(stream)
	require.NoError(t, adapter.Close())
	require.Equal(t, 1, stream.closeCalls)
}

func TestWebtransportFramingRoundTrip(t *testing.T) {
	t.Parallel()
	stream := new(fakeStream)
	adapter := newFakeWebtransportAdapter(stream)
	require.NoError(t, adapter.writeMessageToStream([]byte(`{"type":"ping"}`)))
	require.NoError(t, adapter.writeMessageToStream([]byte(`{"type":"pong"}`)))

	_, frame, err := adapter.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, `{"type":"ping"}`, string(frame))
	_, frame, err = adapter.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, `{"type":"pong"}`, string(frame))
}
