// SPDX-License-Identifier: MIT

package adapters

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	stdlibtime "time"

	"github.com/quic-go/webtransport-go"
)

type (
	WSHandler interface {
		Read(ctx context.Context, reader WS)
	}
	WSReader interface {
		ReadMessage() (messageType int, p []byte, err error)
		io.Closer
	}
	WSWriter interface {
		WriteMessage(messageType int, data []byte) error
		io.Closer
	}
	WS interface {
		WSWriter
		WSReader
	}
	WSWithWriter interface {
		WS
		WSWriterRoutine
	}
	WSWriterRoutine interface {
		Write(ctx context.Context)
	}

	WebsocketAdapter struct {
		conn         net.Conn
		out          chan wsWrite
		closeChannel chan struct{}
		wrErr        error
		wrErrMx      sync.Mutex
		closed       bool
		closeMx      sync.Mutex
		writeTimeout stdlibtime.Duration
		readTimeout  stdlibtime.Duration
	}

	// duplexStream is the slice of webtransport.Stream the adapter actually
	// uses.
	duplexStream interface {
		io.ReadWriteCloser
		SetReadDeadline(t stdlibtime.Time) error
		SetWriteDeadline(t stdlibtime.Time) error
	}

	WebtransportAdapter struct {
		stream       duplexStream
		session      *webtransport.Session
		reader       *bufio.Reader
		out          chan []byte
		closeChannel chan struct{}
		wrErr        error
		wrErrMx      sync.Mutex
		closed       bool
		closeMx      sync.Mutex
		writeTimeout stdlibtime.Duration
		readTimeout  stdlibtime.Duration
	}
)

// Sends are fire-and-forget; a peer that stops draining loses frames once its
// buffer fills instead of stalling the engine.
const outBufferSize = 512

type (
	customCancelContext struct {
		context.Context //nolint:containedctx // Custom implementation.
		ch              <-chan struct{}
	}
	wsWrite struct {
		data   []byte
		opCode int
	}
)

// NewCustomCancelContext cancels when the channel closes, tying the derived
// context's lifetime to the connection it belongs to.
func NewCustomCancelContext(parent context.Context, ch <-chan struct{}) context.Context {
	return customCancelContext{Context: parent, ch: ch}
}

func (c customCancelContext) Done() <-chan struct{} {
	return c.ch
}

func (c customCancelContext) Err() error {
	select {
	case <-c.ch:
		return context.Canceled
	default:
		return nil
	}
}
