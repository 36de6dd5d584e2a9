// SPDX-License-Identifier: MIT

package ws

import (
	"github.com/rcrowley/go-metrics"

	"github.com/statewire/statewire/model"
)

var (
	mOpenConnections        = metrics.GetOrRegisterCounter("statewire.connections.open", nil)
	mMalformedMessages      = metrics.GetOrRegisterCounter("statewire.messages.malformed", nil)
	mUnknownConnectionDrops = metrics.GetOrRegisterCounter("statewire.messages.unknown_connection", nil)
	mBroadcastDeliveries    = metrics.GetOrRegisterCounter("statewire.broadcast.deliveries", nil)
	mDroppedFrames          = metrics.GetOrRegisterCounter("statewire.broadcast.dropped", nil)
	mHeartbeatTerminations  = metrics.GetOrRegisterCounter("statewire.heartbeat.terminations", nil)
)

// mMessagesByType counts processed inbound frames per protocol message type.
var mMessagesByType = func() map[model.MessageType]metrics.Counter {
	byType := make(map[model.MessageType]metrics.Counter)
	for _, typ := range []model.MessageType{
		model.MessageTypeGet, model.MessageTypeOn, model.MessageTypeOff,
		model.MessageTypePing, model.MessageTypePong, model.MessageTypeUpdate,
	} {
		byType[typ] = metrics.GetOrRegisterCounter("statewire.messages."+string(typ), nil)
	}

	return byType
}()
