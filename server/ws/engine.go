// SPDX-License-Identifier: MIT

package ws

import (
	"encoding/json"
	"log"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/statewire/statewire/model"
)

// Engine is the single owner of the connection registry and the state store.
// Every mutation goes through one inbound queue processed by one goroutine;
// connection readers and the heartbeat ticker only enqueue. That serializes
// watch/unwatch/set/broadcast without locks.
type Engine struct {
	cfg      *Config
	cmds     chan func()
	done     chan struct{}
	stopOnce sync.Once
	registry *registry
	store    *stateStore
}

const (
	DefaultHeartbeatInterval = 30 * stdlibtime.Second

	cmdQueueSize = 1024
)

func NewEngine(cfg *Config) *Engine {
	return &Engine{
		cfg:      cfg,
		cmds:     make(chan func(), cmdQueueSize),
		done:     make(chan struct{}),
		registry: newRegistry(),
		store:    newStateStore(),
	}
}

func (e *Engine) Start() {
	go e.run()
}

// Stop drops every connection and stops the heartbeat timer. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

func (e *Engine) run() {
	interval := e.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	heartbeat := stdlibtime.NewTicker(interval)
	defer heartbeat.Stop()
	for {
		select {
		case <-e.done:
			e.dropAllConnections()

			return
		case cmd := <-e.cmds:
			cmd()
		case <-heartbeat.C:
			e.heartbeatTick()
		}
	}
}

func (e *Engine) submit(cmd func()) {
	select {
	case e.cmds <- cmd:
	case <-e.done:
	}
}

func (e *Engine) submitAndWait(cmd func()) {
	executed := make(chan struct{})
	e.submit(func() {
		cmd()
		close(executed)
	})
	select {
	case <-executed:
	case <-e.done:
	}
}

func (e *Engine) attach(w Writer) *connection {
	conn := &connection{
		id:      uuid.NewString(),
		alive:   true,
		watched: make(map[string]struct{}),
		w:       w,
	}
	e.submit(func() {
		e.registry.add(conn)
		mOpenConnections.Inc(1)
	})

	return conn
}

func (e *Engine) detach(conn *connection) {
	e.submit(func() {
		if !e.registry.has(conn.id) {
			return
		}
		e.registry.remove(conn.id)
		mOpenConnections.Dec(1)
	})
}

func (e *Engine) process(conn *connection, msg *model.Message) {
	e.submit(func() { e.handleMessage(conn, msg) })
}

func (e *Engine) handleMessage(conn *connection, msg *model.Message) {
	if !e.registry.has(conn.id) {
		// The connection is already gone; its in-flight messages are dropped.
		mUnknownConnectionDrops.Inc(1)

		return
	}
	if counter, found := mMessagesByType[msg.Type]; found {
		counter.Inc(1)
	}
	switch msg.Type {
	case model.MessageTypePong:
		e.registry.markAlive(conn.id)
	case model.MessageTypePing:
		// Pings travel server to client only.
		log.Printf("WARN: dropping client-originated ping from connection %v", conn.id)
	case model.MessageTypeGet:
		if value, found := e.store.get(msg.Key.Canonical()); found {
			e.send(conn, &model.Message{Type: model.MessageTypeUpdate, Key: msg.Key, Data: value})
		}
	case model.MessageTypeOn:
		key := msg.Key.Canonical()
		e.registry.watch(conn.id, key)
		if value, found := e.store.get(key); found {
			e.send(conn, &model.Message{Type: model.MessageTypeUpdate, Key: msg.Key, Data: value})
		}
	case model.MessageTypeOff:
		e.registry.unwatch(conn.id, msg.Key.Canonical())
	case model.MessageTypeUpdate:
		key := msg.Key.Canonical()
		e.store.set(key, msg.Data)
		e.broadcast(key, msg)
	}
}

// broadcast fans the update out to every watcher, the sender included when it
// watches the key. Sends are fire-and-forget; per-connection delivery failures
// are logged, never propagated.
func (e *Engine) broadcast(key string, msg *model.Message) {
	watchers := e.registry.listWatchers(key)
	if len(watchers) == 0 {
		return
	}
	raw, err := msg.MarshalJSON()
	if err != nil {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to serialize update for %v", key))

		return
	}
	var mErr *multierror.Error
	for _, watcher := range watchers {
		if wErr := watcher.w.WriteMessage(int(ws.OpText), raw); wErr != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(wErr, "connection %v", watcher.id))
			mDroppedFrames.Inc(1)

			continue
		}
		mBroadcastDeliveries.Inc(1)
	}
	if err := mErr.ErrorOrNil(); err != nil {
		log.Printf("WARN: broadcast of %v lost frames: %v", key, err)
	}
}

func (e *Engine) send(conn *connection, msg *model.Message) {
	raw, err := msg.MarshalJSON()
	if err != nil {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to serialize %v reply", msg.Type))

		return
	}
	if err := conn.w.WriteMessage(int(ws.OpText), raw); err != nil {
		mDroppedFrames.Inc(1)
		log.Printf("WARN: failed to send %v to connection %v: %v", msg.Type, conn.id, err)
	}
}

// heartbeatTick runs the liveness round: anything that missed the previous
// round's ping is terminated, everything else is pinged and owes a pong
// before the next tick. A connection therefore survives one silent round and
// is dropped on the second.
func (e *Engine) heartbeatTick() {
	ping, _ := (&model.Message{Type: model.MessageTypePing}).MarshalJSON() //nolint:errcheck // Static frame.
	for _, conn := range e.registry.connections() {
		if !conn.alive {
			log.Printf("heartbeat: terminating unresponsive connection %v", conn.id)
			if err := conn.w.Close(); err != nil {
				log.Printf("ERROR:%v", errors.Wrapf(err, "failed to close unresponsive connection %v", conn.id))
			}
			e.registry.remove(conn.id)
			mOpenConnections.Dec(1)
			mHeartbeatTerminations.Inc(1)

			continue
		}
		conn.alive = false
		if err := conn.w.WriteMessage(int(ws.OpText), ping); err != nil {
			log.Printf("WARN: failed to ping connection %v: %v", conn.id, err)
		}
	}
}

func (e *Engine) dropAllConnections() {
	for _, conn := range e.registry.connections() {
		if err := conn.w.Close(); err != nil {
			log.Printf("ERROR:%v", errors.Wrapf(err, "failed to close connection %v on engine stop", conn.id))
		}
		e.registry.remove(conn.id)
		mOpenConnections.Dec(1)
	}
}

// Connections reports the number of attached connections.
func (e *Engine) Connections() int {
	var count int
	e.submitAndWait(func() { count = e.registry.len() })

	return count
}

// Watchers reports how many connections watch the canonical key.
func (e *Engine) Watchers(key string) int {
	var count int
	e.submitAndWait(func() { count = len(e.registry.listWatchers(key)) })

	return count
}

// State returns the stored value for the canonical key, if any.
func (e *Engine) State(key string) (json.RawMessage, bool) {
	var (
		value json.RawMessage
		found bool
	)
	e.submitAndWait(func() { value, found = e.store.get(key) })

	return value, found
}

// SnapshotState copies the full store, for the snapshot collaborator.
func (e *Engine) SnapshotState() map[string]json.RawMessage {
	var snapshot map[string]json.RawMessage
	e.submitAndWait(func() { snapshot = e.store.snapshot() })

	return snapshot
}

// RestoreState seeds the store, typically once at process start before any
// client connects.
func (e *Engine) RestoreState(state map[string]json.RawMessage) {
	e.submitAndWait(func() { e.store.restore(state) })
}
