// SPDX-License-Identifier: MIT

package adapters

import (
	"context"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// NewWebsocketAdapter wraps an upgraded connection. The returned context is
// canceled when the adapter closes.
func NewWebsocketAdapter(ctx context.Context, conn net.Conn, readTimeout, writeTimeout time.Duration) (WSWithWriter, context.Context) {
	wsa := &WebsocketAdapter{
		conn:         conn,
		out:          make(chan wsWrite, outBufferSize),
		closeChannel: make(chan struct{}, 1),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}

	return wsa, NewCustomCancelContext(ctx, wsa.closeChannel)
}

func (w *WebsocketAdapter) WriteMessage(messageType int, data []byte) error {
	w.wrErrMx.Lock()
	if isConnClosedErr(w.wrErr) {
		w.wrErrMx.Unlock()

		return w.Close()
	}
	w.wrErrMx.Unlock()
	w.closeMx.Lock()
	defer w.closeMx.Unlock()
	if w.closed {
		return nil
	}
	select {
	case w.out <- wsWrite{data: data, opCode: messageType}:
		return nil
	default:
		return errors.Errorf("outbound buffer full, dropping %v byte frame", len(data))
	}
}

func (w *WebsocketAdapter) Write(ctx context.Context) {
	for msg := range w.out {
		if ctx.Err() != nil || isConnClosedErr(w.wrErr) {
			break
		}
		if err := w.writeMessageToConn(msg); err != nil {
			log.Printf("ERROR:%v", errors.Wrap(err, "failed to send message to websocket"))
		}
	}
}

func (w *WebsocketAdapter) writeMessageToConn(msg wsWrite) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)) //nolint:errcheck // .
	}
	select {
	case <-w.closeChannel:
		return nil
	default:
		if err := wsutil.WriteServerMessage(w.conn, ws.OpCode(msg.opCode), msg.data); err != nil {
			w.wrErrMx.Lock()
			w.wrErr = err
			w.wrErrMx.Unlock()
			if isConnClosedErr(err) {
				return nil
			}

			return errors.Wrap(err, "failed to write data to websocket")
		}

		return nil
	}
}

func (w *WebsocketAdapter) ReadMessage() (messageType int, p []byte, err error) {
	if w.readTimeout > 0 {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)) //nolint:errcheck // .
	}
	data, opCode, err := wsutil.ReadClientData(w.conn)
	if err != nil {
		return int(opCode), data, errors.Wrap(err, "failed to read data from websocket")
	}

	return int(opCode), data, nil
}

func (w *WebsocketAdapter) Closed() bool {
	w.closeMx.Lock()
	closed := w.closed
	w.closeMx.Unlock()

	return closed
}

func (w *WebsocketAdapter) Close() error {
	w.closeMx.Lock()
	if w.closed {
		w.closeMx.Unlock()

		return nil
	}
	w.closed = true
	close(w.closeChannel)
	close(w.out)
	w.closeMx.Unlock()

	if err := w.conn.Close(); err != nil && !isConnClosedErr(err) {
		return errors.Wrap(err, "failed to close websocket conn")
	}

	return nil
}

func isConnClosedErr(err error) bool {
	return err != nil &&
		(errors.Is(err, net.ErrClosed) ||
			errors.Is(err, io.EOF) ||
			strings.Contains(err.Error(), "use of closed network connection"))
}
