// SPDX-License-Identifier: MIT

package fixture

import (
	"io"
	"net"
	"sync"
)

type (
	// Client is a raw protocol client for tests: it writes arbitrary frames
	// and exposes everything the server pushes back.
	Client interface {
		WriteMessage(messageType int, data []byte) error
		Received() <-chan []byte
		io.Closer
	}

	client struct {
		conn      net.Conn
		rw        io.ReadWriter
		received  chan []byte
		closeOnce sync.Once
	}

	readWriter struct {
		io.Reader
		io.Writer
	}
)
