// SPDX-License-Identifier: MIT

package internal

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"

	"github.com/statewire/statewire/server/ws/internal/adapters"
	"github.com/statewire/statewire/server/ws/internal/config"
)

const websocketProtocol = "websocket"

// WithWS upgrades websocket requests on the route and hands the connection to
// wsHandler; anything else falls through to httpHandler when one is given.
func WithWS(wsHandler WSHandler, httpHandler http.Handler, cfg *config.Config) gin.HandlerFunc {
	return func(ginCtx *gin.Context) {
		if strings.EqualFold(ginCtx.Request.Header.Get("Upgrade"), websocketProtocol) {
			conn, _, _, err := ws.UpgradeHTTP(ginCtx.Request, ginCtx.Writer)
			if err != nil {
				log.Printf("ERROR:%v", errors.Wrapf(err, "upgrading failed (%v)", ginCtx.Request.Proto))
				ginCtx.Status(http.StatusBadRequest)

				return
			}
			// Hijacked conns outlive the handler, so detach from the request context.
			parent := context.WithoutCancel(ginCtx.Request.Context())
			wsocket, wsCtx := adapters.NewWebsocketAdapter(parent, conn, cfg.ReadTimeout, cfg.WriteTimeout)
			go func() {
				defer func() {
					if clErr := wsocket.Close(); clErr != nil {
						log.Printf("ERROR:%v", errors.Wrap(clErr, "failed to close websocket conn"))
					}
				}()
				go wsocket.Write(wsCtx)
				wsHandler.Read(wsCtx, wsocket)
			}()

			return
		}
		if httpHandler != nil {
			httpHandler.ServeHTTP(ginCtx.Writer, ginCtx.Request)

			return
		}
		ginCtx.Status(http.StatusMethodNotAllowed)
	}
}
