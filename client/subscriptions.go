// SPDX-License-Identifier: MIT

package client

import (
	"github.com/google/uuid"

	"github.com/statewire/statewire/model"
)

// Subscribe registers a callback for the key. The first callback for a key
// sends one `on` upstream; later callbacks share that subscription and, when
// a cached value exists, are invoked with it immediately so a late joiner
// does not wait for the next update.
func (s *Session) Subscribe(key model.Key, cb Callback) string {
	canonical := key.Canonical()
	reg := &registration{id: uuid.NewString(), key: key, cb: cb}
	s.mx.Lock()
	first := len(s.subs[canonical]) == 0
	s.subs[canonical] = append(s.subs[canonical], reg)
	s.subsByID[reg.id] = reg
	cached, hasCached := s.cache[canonical]
	if first && s.connected {
		// While disconnected the watch is established by the next Connect.
		s.enqueueLocked(&model.Message{Type: model.MessageTypeOn, Key: key})
	}
	s.mx.Unlock()
	if !first && hasCached {
		cb(cached)
	}

	return reg.id
}

// Unsubscribe removes one registration. Removing the last one for a key sends
// one `off` upstream. Unknown ids are a no-op.
func (s *Session) Unsubscribe(id string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	reg, found := s.subsByID[id]
	if !found {
		return
	}
	delete(s.subsByID, id)
	canonical := reg.key.Canonical()
	regs := s.subs[canonical]
	for i := range regs {
		if regs[i].id == id {
			s.subs[canonical] = append(regs[:i], regs[i+1:]...)

			break
		}
	}
	if len(s.subs[canonical]) == 0 {
		delete(s.subs, canonical)
		if s.connected {
			s.enqueueLocked(&model.Message{Type: model.MessageTypeOff, Key: reg.key})
		}
	}
}
