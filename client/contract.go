// SPDX-License-Identifier: MIT

package client

import (
	"encoding/json"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/statewire/statewire/model"
)

type (
	// Callback receives the new value for a subscribed key. Callbacks for one
	// key run synchronously in registration order.
	Callback func(data json.RawMessage)

	Config struct {
		URL              string              `yaml:"url"`
		HandshakeTimeout stdlibtime.Duration `yaml:"handshakeTimeout"`
		WriteTimeout     stdlibtime.Duration `yaml:"writeTimeout"`
	}

	// Session owns one connection to the server, the local value cache and the
	// callback registry. Application code interacts with shared state only
	// through Subscribe/Unsubscribe/Publish/Get on the session.
	Session struct {
		cfg *Config

		mx        sync.Mutex
		conn      *websocket.Conn
		out       chan []byte
		connected bool
		cache     map[string]json.RawMessage
		subs      map[string][]*registration
		subsByID  map[string]*registration
		queue     []*model.Message
	}

	registration struct {
		id  string
		key model.Key
		cb  Callback
	}
)

// ErrNotConnected is returned by operations that cannot be queued while the
// session has no transport. The session never reconnects on its own; dial
// again via Connect.
var ErrNotConnected = errors.New("session is not connected")

const outBufferSize = 512
