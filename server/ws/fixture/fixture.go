// SPDX-License-Identifier: MIT

package fixture

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/statewire/statewire/server"
	wsserver "github.com/statewire/statewire/server/ws"
)

// NewTestServer runs the full stack (engine + listeners + routes) until the
// context is canceled and returns the engine for white-box assertions.
func NewTestServer(ctx context.Context, cancel context.CancelFunc, cfg *wsserver.Config) *wsserver.Engine {
	engine := wsserver.NewEngine(cfg)
	engine.Start()
	go server.ListenAndServe(ctx, cancel, cfg, engine)

	return engine
}

func NewWebsocketClient(ctx context.Context, url string) (Client, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %v", url)
	}
	c := &client{conn: conn, rw: conn, received: make(chan []byte, 128)}
	if br != nil {
		c.rw = readWriter{Reader: br, Writer: conn}
	}
	go c.read()

	return c, nil
}

func (c *client) read() {
	defer close(c.received)
	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			return
		}
		c.received <- data
	}
}

func (c *client) WriteMessage(messageType int, data []byte) error {
	if err := wsutil.WriteClientMessage(c.rw, ws.OpCode(messageType), data); err != nil {
		return errors.Wrap(err, "failed to write client message")
	}

	return nil
}

func (c *client) Received() <-chan []byte {
	return c.received
}

func (c *client) Close() error {
	c.closeOnce.Do(func() { _ = c.conn.Close() }) //nolint:errcheck // Best effort.

	return nil
}
