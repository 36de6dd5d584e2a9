// SPDX-License-Identifier: MIT

package http1

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/statewire/statewire/server/ws/internal/config"
)

type (
	Server struct {
		cfg     *config.Config
		handler http.Handler
		tlsConf *tls.Config
		server  *http.Server
	}
)

func New(cfg *config.Config, handler http.Handler, tlsConf *tls.Config) *Server {
	return &Server{cfg: cfg, handler: handler, tlsConf: tlsConf}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%v", s.cfg.Port),
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	if s.tlsConf != nil {
		s.server.TLSConfig = s.tlsConf
		if err := s.server.ListenAndServeTLS("", ""); err != nil {
			return errors.Wrap(err, "failed to start https/tcp server")
		}

		return nil
	}
	if err := s.server.ListenAndServe(); err != nil {
		return errors.Wrap(err, "failed to start http/tcp server")
	}

	return nil
}

func (s *Server) Shutdown(_ context.Context) error {
	if err := s.server.Close(); err != nil {
		return errors.Wrap(err, "failed to close http/tcp server")
	}

	return nil
}
