// SPDX-License-Identifier: MIT

package client

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/statewire/statewire/model"
)

func New(cfg *Config) *Session {
	return &Session{
		cfg:      cfg,
		cache:    make(map[string]json.RawMessage),
		subs:     make(map[string][]*registration),
		subsByID: make(map[string]*registration),
	}
}

// Connect dials the server. On open the session flushes every update queued
// while disconnected, in order, then restores the server-side watch set for
// keys that still have callbacks. Reconnecting after a drop is always the
// caller's move; the session never redials on its own.
func (s *Session) Connect(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.connected {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil) //nolint:bodyclose // Hijacked on success.
	if err != nil {
		return errors.Wrapf(err, "failed to dial %v", s.cfg.URL)
	}
	out := make(chan []byte, outBufferSize)
	s.conn, s.out, s.connected = conn, out, true
	go s.writePump(conn, out)
	go s.readPump(conn)

	for _, msg := range s.queue {
		s.enqueueLocked(msg)
	}
	s.queue = nil
	for _, key := range s.watchedKeysLocked() {
		s.enqueueLocked(&model.Message{Type: model.MessageTypeOn, Key: key})
	}

	return nil
}

func (s *Session) watchedKeysLocked() []model.Key {
	canonicals := make([]string, 0, len(s.subs))
	for canonical := range s.subs {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)
	keys := make([]model.Key, 0, len(canonicals))
	for _, canonical := range canonicals {
		keys = append(keys, s.subs[canonical][0].key)
	}

	return keys
}

func (s *Session) Connected() bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.connected
}

// Publish sends an update for the key. While disconnected the update is held
// in an in-memory queue flushed by the next Connect; it is lost if the
// process exits first.
func (s *Session) Publish(key model.Key, data any) error {
	raw, err := toRawMessage(data)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize update for %v", key.Canonical())
	}
	msg := &model.Message{Type: model.MessageTypeUpdate, Key: key, Data: raw}
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.connected {
		s.queue = append(s.queue, msg)

		return nil
	}
	s.enqueueLocked(msg)

	return nil
}

// Get asks the server for the key's current value; the reply, if the server
// holds one, arrives as a regular update. Get does not subscribe.
func (s *Session) Get(key model.Key) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.enqueueLocked(&model.Message{Type: model.MessageTypeGet, Key: key})

	return nil
}

// State reads the locally cached value for the key. The cache is only updated
// from inbound update messages.
func (s *Session) State(key model.Key) (json.RawMessage, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	value, found := s.cache[key.Canonical()]

	return value, found
}

func (s *Session) Close() error {
	s.mx.Lock()
	conn := s.conn
	if s.connected {
		s.connected = false
		close(s.out)
		s.out, s.conn = nil, nil
	}
	s.mx.Unlock()
	if conn != nil {
		return errors.Wrap(conn.Close(), "failed to close session transport")
	}

	return nil
}

func (s *Session) enqueueLocked(msg *model.Message) {
	raw, err := msg.MarshalJSON()
	if err != nil {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to serialize %v frame", msg.Type))

		return
	}
	select {
	case s.out <- raw:
	default:
		log.Printf("WARN: outbound buffer full, dropping %v frame", msg.Type)
	}
}

func (s *Session) writePump(conn *websocket.Conn, out <-chan []byte) {
	for raw := range out {
		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)) //nolint:errcheck // .
		}
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			log.Printf("WARN: session write failed: %v", err)
			_ = conn.Close() //nolint:errcheck // Read pump reports the disconnect.

			return
		}
	}
}

func (s *Session) readPump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.markDisconnected(conn)

			return
		}
		s.dispatch(raw)
	}
}

func (s *Session) markDisconnected(conn *websocket.Conn) {
	s.mx.Lock()
	if s.conn != conn {
		// A stale pump; the session already moved on.
		s.mx.Unlock()

		return
	}
	s.connected = false
	close(s.out)
	s.out, s.conn = nil, nil
	s.mx.Unlock()
	_ = conn.Close() //nolint:errcheck // Already disconnecting.
}

func (s *Session) dispatch(raw []byte) {
	msg, err := model.ParseMessage(raw)
	if err != nil {
		log.Printf("WARN: dropping malformed message from server: %v", err)

		return
	}
	switch msg.Type {
	case model.MessageTypePing:
		s.mx.Lock()
		if s.connected {
			s.enqueueLocked(&model.Message{Type: model.MessageTypePong})
		}
		s.mx.Unlock()
	case model.MessageTypeUpdate:
		s.dispatchUpdate(msg)
	default:
		log.Printf("WARN: dropping unexpected %v message from server", msg.Type)
	}
}

// dispatchUpdate fires the callbacks registered for the updated key only, in
// registration order, then refreshes the local cache.
func (s *Session) dispatchUpdate(msg *model.Message) {
	key := msg.Key.Canonical()
	s.mx.Lock()
	regs := append([]*registration(nil), s.subs[key]...)
	s.mx.Unlock()
	for _, reg := range regs {
		reg.cb(msg.Data)
	}
	s.mx.Lock()
	s.cache[key] = msg.Data
	s.mx.Unlock()
}

func toRawMessage(data any) (json.RawMessage, error) {
	switch value := data.(type) {
	case json.RawMessage:
		return value, nil
	case []byte:
		return json.RawMessage(value), nil
	default:
		raw, err := json.Marshal(data)

		return json.RawMessage(raw), err
	}
}
