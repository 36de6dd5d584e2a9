// SPDX-License-Identifier: MIT

package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/statewire/statewire/server/ws/internal"
	"github.com/statewire/statewire/server/ws/internal/adapters"
	"github.com/statewire/statewire/server/ws/internal/config"
)

type (
	Config         = config.Config
	Writer         = adapters.WSWriter
	Router         = internal.Router
	Server         = internal.Server
	WSHandler      = internal.WSHandler
	RegisterRoutes = internal.RegisterRoutes
)

type (
	// handler interprets inbound frames for one connection and feeds the engine.
	handler struct {
		engine *Engine
	}

	// connection is the engine's view of one attached peer. All fields except
	// id and w are owned by the engine goroutine.
	connection struct {
		id      string
		alive   bool
		watched map[string]struct{}
		w       Writer
	}
)

func New(cfg *Config, wsHandler WSHandler, routes RegisterRoutes) Server {
	return internal.NewWSServer(wsHandler, routes, cfg)
}

func NewHandler(engine *Engine) WSHandler {
	return &handler{engine: engine}
}

// WithWS mounts the synchronization protocol on a route; non-upgrade requests
// fall through to httpHandler when one is given.
func WithWS(wsHandler WSHandler, httpHandler http.Handler, cfg *Config) gin.HandlerFunc {
	return internal.WithWS(wsHandler, httpHandler, cfg)
}
