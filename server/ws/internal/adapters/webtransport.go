// SPDX-License-Identifier: MIT

package adapters

import (
	"bufio"
	"context"
	"log"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/webtransport-go"
)

// Webtransport streams have no frame boundaries, so frames are 0x00-delimited.
const frameDelimiter = 0x00

func NewWebTransportAdapter(ctx context.Context, session *webtransport.Session, stream webtransport.Stream, readTimeout, writeTimeout time.Duration) (WSWithWriter, context.Context) {
	wt := &WebtransportAdapter{
		stream:       stream,
		session:      session,
		reader:       bufio.NewReaderSize(stream, 1024),
		closeChannel: make(chan struct{}, 1),
		out:          make(chan []byte, outBufferSize),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}

	return wt, NewCustomCancelContext(ctx, wt.closeChannel)
}

func (w *WebtransportAdapter) WriteMessage(_ int, data []byte) error {
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
	case w.out <- data:
		return nil
	default:
		return errors.Errorf("outbound buffer full, dropping %v byte frame", len(data))
	}
}

func (w *WebtransportAdapter) Write(ctx context.Context) {
	for msg := range w.out {
		if ctx.Err() != nil || isConnClosedErr(w.wrErr) {
			break
		}
		if err := w.writeMessageToStream(msg); err != nil {
			log.Printf("ERROR:%v", errors.Wrap(err, "failed to send message to webtransport"))
		}
	}
}

func (w *WebtransportAdapter) writeMessageToStream(data []byte) error {
	if w.writeTimeout > 0 {
		_ = w.stream.SetWriteDeadline(time.Now().Add(w.writeTimeout)) //nolint:errcheck // .
	}
	data = append(data, frameDelimiter)
	select {
	case <-w.closeChannel:
		return nil
	default:
		if _, err := w.stream.Write(data); err != nil {
			w.wrErrMx.Lock()
			w.wrErr = err
			w.wrErrMx.Unlock()
			if isConnClosedErr(err) {
				return nil
			}

			return errors.Wrap(err, "failed to write data to webtransport stream")
		}

		return nil
	}
}

func (w *WebtransportAdapter) ReadMessage() (messageType int, p []byte, err error) {
	if w.readTimeout > 0 {
		_ = w.stream.SetReadDeadline(time.Now().Add(w.readTimeout)) //nolint:errcheck // .
	}
	p, err = w.reader.ReadBytes(frameDelimiter)
	if err != nil {
		return 0, p, errors.Wrap(err, "failed to read data from webtransport stream")
	}
	if len(p) > 0 && p[len(p)-1] == frameDelimiter {
		p = p[:len(p)-1]
	}

	return 1, p, nil
}

func (w *WebtransportAdapter) Closed() bool {
	w.closeMx.Lock()
	closed := w.closed
	w.closeMx.Unlock()

	return closed
}

func (w *WebtransportAdapter) Close() error {
	w.closeMx.Lock()
	if w.closed {
		w.closeMx.Unlock()

		return nil
	}
	w.closed = true
	close(w.closeChannel)
	close(w.out)
	w.closeMx.Unlock()

	var mErr *multierror.Error
	if w.session != nil {
		if err := w.session.CloseWithError(0, ""); err != nil {
			mErr = multierror.Append(mErr, errors.Wrap(err, "failed to close webtransport session"))
		}
	}
	if err := w.stream.Close(); err != nil && !strings.Contains(err.Error(), "close called for canceled stream") {
		mErr = multierror.Append(mErr, errors.Wrap(err, "failed to close webtransport stream"))
	}

	return mErr.ErrorOrNil()
}
