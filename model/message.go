// SPDX-License-Identifier: MIT

package model

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

type (
	MessageType string

	// Message is one protocol frame. Key is present for get/on/off/update,
	// Data only for update. Data is opaque to the protocol.
	Message struct {
		Type MessageType
		Key  Key
		Data json.RawMessage
	}
)

const (
	MessageTypeGet    MessageType = "get"
	MessageTypeOn     MessageType = "on"
	MessageTypeOff    MessageType = "off"
	MessageTypePing   MessageType = "ping"
	MessageTypePong   MessageType = "pong"
	MessageTypeUpdate MessageType = "update"
)

// ErrMalformedMessage marks frames that must be dropped without closing the
// connection that sent them.
var ErrMalformedMessage = errors.New("malformed message")

func (t MessageType) requiresKey() bool {
	switch t {
	case MessageTypeGet, MessageTypeOn, MessageTypeOff, MessageTypeUpdate:
		return true
	default:
		return false
	}
}

// ParseMessage decodes one frame. It never panics on arbitrary input; any
// structural problem is reported as ErrMalformedMessage.
func ParseMessage(raw []byte) (*Message, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, errors.Wrap(ErrMalformedMessage, "frame is not a json object")
	}
	msg := &Message{Type: MessageType(parsed.Get("type").Str)}
	switch msg.Type {
	case MessageTypeGet, MessageTypeOn, MessageTypeOff, MessageTypePing, MessageTypePong, MessageTypeUpdate:
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "unknown type %q", parsed.Get("type").Raw)
	}

	key := parsed.Get("key")
	switch {
	case key.IsArray():
		for _, segment := range key.Array() {
			canonicalSegment, err := stringifySegment(segment)
			if err != nil {
				return nil, err
			}
			msg.Key = append(msg.Key, canonicalSegment)
		}
	case key.Type == gjson.String:
		// A bare string key passes through unchanged.
		msg.Key = Key{key.Str}
	case !key.Exists():
	default:
		return nil, errors.Wrap(ErrMalformedMessage, "key must be a string or an array of segments")
	}
	if msg.Type.requiresKey() && len(msg.Key) == 0 {
		return nil, errors.Wrapf(ErrMalformedMessage, "%v requires a key", msg.Type)
	}

	if msg.Type == MessageTypeUpdate {
		data := parsed.Get("data")
		if !data.Exists() {
			return nil, errors.Wrap(ErrMalformedMessage, "update requires data")
		}
		msg.Data = json.RawMessage(data.Raw)
	}

	return msg, nil
}

func stringifySegment(segment gjson.Result) (string, error) {
	switch segment.Type {
	case gjson.String:
		return segment.Str, nil
	case gjson.Null:
		// Null segments are path placeholders and stringify as-is.
		return "null", nil
	case gjson.Number, gjson.True, gjson.False:
		return segment.Raw, nil
	default:
		return "", errors.Wrapf(ErrMalformedMessage, "key segment %q is not a scalar", segment.Raw)
	}
}

func (m *Message) MarshalJSON() ([]byte, error) {
	frame := struct {
		Type MessageType     `json:"type"`
		Key  []string        `json:"key,omitempty"`
		Data json.RawMessage `json:"data,omitempty"`
	}{Type: m.Type, Key: m.Key, Data: m.Data}

	return json.Marshal(frame)
}

func (m *Message) String() string {
	data, _ := m.MarshalJSON()

	return string(data)
}
