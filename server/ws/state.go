// SPDX-License-Identifier: MIT

package ws

import "encoding/json"

// stateStore is the server's source of truth: last known value per canonical
// key. Entries are never removed, even after the last watcher unsubscribes;
// state outlives interest so late joiners always get the last value. Owned
// exclusively by the engine goroutine.
type stateStore struct {
	values map[string]json.RawMessage
}

func newStateStore() *stateStore {
	return &stateStore{values: make(map[string]json.RawMessage)}
}

func (s *stateStore) get(key string) (json.RawMessage, bool) {
	value, found := s.values[key]

	return value, found
}

func (s *stateStore) set(key string, value json.RawMessage) {
	s.values[key] = value
}

func (s *stateStore) snapshot() map[string]json.RawMessage {
	snapshot := make(map[string]json.RawMessage, len(s.values))
	for key, value := range s.values {
		snapshot[key] = value
	}

	return snapshot
}

func (s *stateStore) restore(state map[string]json.RawMessage) {
	for key, value := range state {
		s.values[key] = value
	}
}
