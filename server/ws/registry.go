// SPDX-License-Identifier: MIT

package ws

// registry tracks every open connection and the keys each one watches. Owned
// exclusively by the engine goroutine; no locking. A connection is in the
// broadcast set for a key iff that key is in its watch set.
type registry struct {
	conns    map[string]*connection
	watchers map[string]map[string]*connection
}

func newRegistry() *registry {
	return &registry{
		conns:    make(map[string]*connection),
		watchers: make(map[string]map[string]*connection),
	}
}

func (r *registry) add(conn *connection) {
	r.conns[conn.id] = conn
}

func (r *registry) has(id string) bool {
	_, found := r.conns[id]

	return found
}

// remove drops the connection and every watch it holds. Idempotent.
func (r *registry) remove(id string) {
	conn, found := r.conns[id]
	if !found {
		return
	}
	for key := range conn.watched {
		r.unwatch(id, key)
	}
	delete(r.conns, id)
}

func (r *registry) watch(id, key string) {
	conn, found := r.conns[id]
	if !found {
		return
	}
	conn.watched[key] = struct{}{}
	keyWatchers, found := r.watchers[key]
	if !found {
		keyWatchers = make(map[string]*connection, 1)
		r.watchers[key] = keyWatchers
	}
	keyWatchers[id] = conn
}

func (r *registry) unwatch(id, key string) {
	if conn, found := r.conns[id]; found {
		delete(conn.watched, key)
	}
	keyWatchers, found := r.watchers[key]
	if !found {
		return
	}
	delete(keyWatchers, id)
	if len(keyWatchers) == 0 {
		delete(r.watchers, key)
	}
}

// listWatchers returns a snapshot slice so an in-flight broadcast survives
// registry mutation (a connection closing mid-broadcast must not corrupt the
// loop).
func (r *registry) listWatchers(key string) []*connection {
	keyWatchers := r.watchers[key]
	if len(keyWatchers) == 0 {
		return nil
	}
	snapshot := make([]*connection, 0, len(keyWatchers))
	for _, conn := range keyWatchers {
		snapshot = append(snapshot, conn)
	}

	return snapshot
}

func (r *registry) markAlive(id string) {
	if conn, found := r.conns[id]; found {
		conn.alive = true
	}
}

func (r *registry) connections() []*connection {
	snapshot := make([]*connection, 0, len(r.conns))
	for _, conn := range r.conns {
		snapshot = append(snapshot, conn)
	}

	return snapshot
}

func (r *registry) len() int {
	return len(r.conns)
}
