// SPDX-License-Identifier: MIT

package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	wsserver "github.com/statewire/statewire/server/ws"
)

type (
	Config = wsserver.Config

	router struct {
		cfg     *Config
		engine  *wsserver.Engine
		handler wsserver.WSHandler
	}
)

// ListenAndServe blocks until the context is canceled or a termination signal
// arrives. The engine must be started by the caller; it is shared between the
// transport listeners and the heartbeat timer.
func ListenAndServe(ctx context.Context, cancel context.CancelFunc, cfg *Config, engine *wsserver.Engine) {
	handler := wsserver.NewHandler(engine)
	routes := &router{cfg: cfg, engine: engine, handler: handler}
	wsserver.New(cfg, handler, routes).ListenAndServe(ctx, cancel)
}

func (r *router) RegisterRoutes(routes *wsserver.Router) {
	routes.Any("/", wsserver.WithWS(r.handler, nil, r.cfg)).
		GET("/health", r.health)
}

func (r *router) health(ginCtx *gin.Context) {
	ginCtx.JSON(http.StatusOK, gin.H{"connections": r.engine.Connections()})
}
