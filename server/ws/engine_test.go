// SPDX-License-Identifier: MIT

package ws

import (
	"encoding/json"
	"sync"
	"testing"
	stdlibtime "time"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/statewire/statewire/model"
)

type fakeWriter struct {
	mx      sync.Mutex
	frames  [][]byte
	closed  bool
	onWrite func(raw []byte)
}

func (f *fakeWriter) WriteMessage(_ int, data []byte) error {
	f.mx.Lock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	onWrite := f.onWrite
	f.mx.Unlock()
	if onWrite != nil {
		onWrite(data)
	}

	return nil
}

func (f *fakeWriter) Close() error {
	f.mx.Lock()
	f.closed = true
	f.mx.Unlock()

	return nil
}

func (f *fakeWriter) isClosed() bool {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.closed
}

func (f *fakeWriter) messages(t *testing.T) []*model.Message {
	t.Helper()
	f.mx.Lock()
	defer f.mx.Unlock()
	msgs := make([]*model.Message, 0, len(f.frames))
	for _, frame := range f.frames {
		msg, err := model.ParseMessage(frame)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}

	return msgs
}

func (f *fakeWriter) updatesFor(t *testing.T, canonical string) []*model.Message {
	t.Helper()
	var updates []*model.Message
	for _, msg := range f.messages(t) {
		if msg.Type == model.MessageTypeUpdate && msg.Key.Canonical() == canonical {
			updates = append(updates, msg)
		}
	}

	return updates
}

func newTestEngine(t *testing.T, heartbeat stdlibtime.Duration) *Engine {
	t.Helper()
	engine := NewEngine(&Config{HeartbeatInterval: heartbeat})
	engine.Start()
	t.Cleanup(engine.Stop)

	return engine
}

func (e *Engine) sync() {
	e.submitAndWait(func() {})
}

func mustMessage(t *testing.T, raw string) *model.Message {
	t.Helper()
	msg, err := model.ParseMessage([]byte(raw))
	require.NoError(t, err)

	return msg
}

func TestBroadcastReachesExactlyTheWatchers(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	wA, wB, wC := new(fakeWriter), new(fakeWriter), new(fakeWriter)
	connA, connB, connC := engine.attach(wA), engine.attach(wB), engine.attach(wC)

	engine.process(connA, mustMessage(t, `{"type":"on","key":["room","1"]}`))
	engine.process(connB, mustMessage(t, `{"type":"on","key":["room","1"]}`))
	engine.process(connB, mustMessage(t, `{"type":"update","key":["room","1"],"data":{"count":5}}`))
	engine.sync()

	require.Len(t, wA.updatesFor(t, "room.1"), 1)
	require.JSONEq(t, `{"count":5}`, string(wA.updatesFor(t, "room.1")[0].Data))
	// The sender watches the key, so it gets the echo.
	require.Len(t, wB.updatesFor(t, "room.1"), 1)
	// connC never subscribed.
	require.Empty(t, wC.updatesFor(t, "room.1"))
	_ = connC
}

func TestLastWriteWins(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	conn := engine.attach(new(fakeWriter))
	for _, count := range []string{"1", "2", "3"} {
		engine.process(conn, mustMessage(t, `{"type":"update","key":["k"],"data":`+count+`}`))
	}
	engine.sync()

	value, found := engine.State("k")
	require.True(t, found)
	require.JSONEq(t, "3", string(value))
}

func TestOnIsIdempotentAndRepliesWithStoredValue(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	writer := new(fakeWriter)
	publisher := engine.attach(new(fakeWriter))
	engine.process(publisher, mustMessage(t, `{"type":"update","key":["room","1"],"data":{"count":5}}`))

	conn := engine.attach(writer)
	engine.process(conn, mustMessage(t, `{"type":"on","key":["room","1"]}`))
	engine.process(conn, mustMessage(t, `{"type":"on","key":["room","1"]}`))
	engine.sync()

	require.Equal(t, 1, engine.Watchers("room.1"))
	// A late joiner receives the stored value as part of each on.
	require.Len(t, writer.updatesFor(t, "room.1"), 2)
	require.JSONEq(t, `{"count":5}`, string(writer.updatesFor(t, "room.1")[0].Data))
}

func TestGetDoesNotSubscribe(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	writer := new(fakeWriter)
	conn := engine.attach(writer)
	engine.process(conn, mustMessage(t, `{"type":"get","key":["missing"]}`))
	engine.sync()
	require.Empty(t, writer.messages(t))
	require.Zero(t, engine.Watchers("missing"))

	engine.process(conn, mustMessage(t, `{"type":"update","key":["present"],"data":1}`))
	engine.process(conn, mustMessage(t, `{"type":"get","key":["present"]}`))
	engine.sync()
	require.Len(t, writer.updatesFor(t, "present"), 1)
	require.Zero(t, engine.Watchers("present"))
}

func TestOffAndDetachShrinkTheBroadcastSet(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	wA, wB := new(fakeWriter), new(fakeWriter)
	connA, connB := engine.attach(wA), engine.attach(wB)
	engine.process(connA, mustMessage(t, `{"type":"on","key":["k"]}`))
	engine.process(connB, mustMessage(t, `{"type":"on","key":["k"]}`))
	engine.sync()
	require.Equal(t, 2, engine.Watchers("k"))

	engine.process(connB, mustMessage(t, `{"type":"off","key":["k"]}`))
	// Unwatching an already-unwatched key is a no-op.
	engine.process(connB, mustMessage(t, `{"type":"off","key":["k"]}`))
	engine.sync()
	require.Equal(t, 1, engine.Watchers("k"))

	engine.detach(connA)
	engine.sync()
	require.Zero(t, engine.Watchers("k"))
	require.Equal(t, 1, engine.Connections())

	// State survives the last unsubscribe.
	engine.process(connB, mustMessage(t, `{"type":"update","key":["k"],"data":7}`))
	engine.sync()
	value, found := engine.State("k")
	require.True(t, found)
	require.JSONEq(t, "7", string(value))
}

func TestMessagesFromDetachedConnectionsAreDropped(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	conn := engine.attach(new(fakeWriter))
	engine.detach(conn)
	engine.process(conn, mustMessage(t, `{"type":"update","key":["ghost"],"data":1}`))
	engine.sync()
	_, found := engine.State("ghost")
	require.False(t, found)
}

func TestHeartbeatTerminatesSilentConnections(t *testing.T) {
	t.Parallel()
	const interval = 50 * stdlibtime.Millisecond
	engine := newTestEngine(t, interval)

	silent := new(fakeWriter)
	responsive := new(fakeWriter)
	engine.attach(silent)
	respConn := engine.attach(responsive)
	responsive.mx.Lock()
	responsive.onWrite = func(raw []byte) {
		if msg, err := model.ParseMessage(raw); err == nil && msg.Type == model.MessageTypePing {
			engine.process(respConn, &model.Message{Type: model.MessageTypePong})
		}
	}
	responsive.mx.Unlock()
	engine.sync()
	require.Equal(t, 2, engine.Connections())

	// The silent one must miss two consecutive rounds before being dropped.
	require.Eventually(t, func() bool { return engine.Connections() == 1 },
		10*interval, interval/5)
	require.True(t, silent.isClosed())

	// The responsive one keeps answering pings and survives further rounds.
	stdlibtime.Sleep(4 * interval)
	require.Equal(t, 1, engine.Connections())
	require.False(t, responsive.isClosed())
}

func TestInboundMessagesAreCountedByType(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	conn := engine.attach(new(fakeWriter))
	updatesBefore := metrics.GetOrRegisterCounter("statewire.messages.update", nil).Count()
	pongsBefore := metrics.GetOrRegisterCounter("statewire.messages.pong", nil).Count()
	getsBefore := metrics.GetOrRegisterCounter("statewire.messages.get", nil).Count()

	engine.process(conn, mustMessage(t, `{"type":"update","key":["counted"],"data":1}`))
	engine.process(conn, mustMessage(t, `{"type":"update","key":["counted"],"data":2}`))
	engine.process(conn, mustMessage(t, `{"type":"pong"}`))
	engine.process(conn, mustMessage(t, `{"type":"get","key":["counted"]}`))
	engine.sync()

	// Counters are process-global, so concurrently running tests may add more.
	require.GreaterOrEqual(t, metrics.GetOrRegisterCounter("statewire.messages.update", nil).Count()-updatesBefore, int64(2))
	require.GreaterOrEqual(t, metrics.GetOrRegisterCounter("statewire.messages.pong", nil).Count()-pongsBefore, int64(1))
	require.GreaterOrEqual(t, metrics.GetOrRegisterCounter("statewire.messages.get", nil).Count()-getsBefore, int64(1))
}

func TestEngineStopDropsEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	engine := NewEngine(&Config{HeartbeatInterval: stdlibtime.Hour})
	engine.Start()
	writer := new(fakeWriter)
	engine.attach(writer)
	engine.sync()
	engine.Stop()
	engine.Stop() // Idempotent.
	assert.Eventually(t, writer.isClosed, stdlibtime.Second, 10*stdlibtime.Millisecond)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, stdlibtime.Hour)
	engine.RestoreState(map[string]json.RawMessage{"a.b": json.RawMessage(`1`)})
	conn := engine.attach(new(fakeWriter))
	engine.process(conn, mustMessage(t, `{"type":"update","key":["c"],"data":2}`))
	engine.sync()

	snapshot := engine.SnapshotState()
	require.JSONEq(t, "1", string(snapshot["a.b"]))
	require.JSONEq(t, "2", string(snapshot["c"]))

	// Restored state is visible to a fresh subscriber, exactly as a stored update.
	writer := new(fakeWriter)
	sub := engine.attach(writer)
	engine.process(sub, mustMessage(t, `{"type":"on","key":["a","b"]}`))
	engine.sync()
	require.Len(t, writer.updatesFor(t, "a.b"), 1)
}
