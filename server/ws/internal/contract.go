// SPDX-License-Identifier: MIT

package internal

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/statewire/statewire/server/ws/internal/adapters"
	"github.com/statewire/statewire/server/ws/internal/config"
	"github.com/statewire/statewire/server/ws/internal/http1"
	"github.com/statewire/statewire/server/ws/internal/http3"
)

type (
	Router = gin.Engine
	Server interface {
		// ListenAndServe starts everything and blocks indefinitely.
		ListenAndServe(ctx context.Context, cancel context.CancelFunc)
	}
	RegisterRoutes interface {
		RegisterRoutes(router *Router)
	}

	WSHandler = adapters.WSHandler
	WS        = adapters.WS
)

type (
	srv struct {
		cfg       *config.Config
		wsHandler WSHandler
		router    *Router
		h1server  *http1.Server
		h3server  *http3.Server
		certs     *CertReloader
		quit      chan<- os.Signal
	}
)
