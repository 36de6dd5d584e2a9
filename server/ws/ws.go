// SPDX-License-Identifier: MIT

package ws

import (
	"context"
	"io"
	"log"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/statewire/statewire/model"
	"github.com/statewire/statewire/server/ws/internal"
)

func (h *handler) Read(ctx context.Context, stream internal.WS) {
	conn := h.engine.attach(stream)
	for {
		t, msgBytes, err := stream.ReadMessage()
		if err != nil {
			closed := new(wsutil.ClosedError)
			if errors.As(err, closed) {
				if closed.Code != ws.StatusNormalClosure &&
					closed.Code != ws.StatusGoingAway &&
					closed.Code != ws.StatusAbnormalClosure &&
					closed.Code != ws.StatusNoStatusRcvd {
					log.Printf("WARN: unexpected close code %v on connection %v", closed.Code, conn.id)
				}
			} else if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Printf("WARN: unexpected read error on connection %v: %v", conn.id, err)
			}

			break
		}
		if len(msgBytes) > 0 && ws.OpCode(t) == ws.OpText {
			h.handle(conn, msgBytes)
		}
	}
	h.engine.detach(conn)
}

// handle parses in the reader goroutine and enqueues the engine op, so frames
// from one connection are processed in the order received. A malformed frame
// is dropped with a diagnostic; the connection stays usable.
func (h *handler) handle(conn *connection, raw []byte) {
	msg, err := model.ParseMessage(raw)
	if err != nil {
		mMalformedMessages.Inc(1)
		log.Printf("WARN: dropping malformed message from connection %v: %v", conn.id, err)

		return
	}
	h.engine.process(conn, msg)
}
