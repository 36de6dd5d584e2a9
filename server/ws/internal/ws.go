// SPDX-License-Identifier: MIT

package internal

import (
	"context"
	"crypto/tls"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/statewire/statewire/server/ws/internal/config"
	"github.com/statewire/statewire/server/ws/internal/http1"
	"github.com/statewire/statewire/server/ws/internal/http3"
)

func NewWSServer(wsHandler WSHandler, routes RegisterRoutes, cfg *config.Config) Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.RegisterRoutes(router)

	return &srv{cfg: cfg, wsHandler: wsHandler, router: router}
}

func (s *srv) ListenAndServe(ctx context.Context, cancel context.CancelFunc) {
	tlsConf := s.tlsConfig()
	s.h1server = http1.New(s.cfg, s.router, tlsConf)
	go s.startServer(ctx, func(serverCtx context.Context) error {
		return s.h1server.ListenAndServe(serverCtx)
	})
	if tlsConf != nil {
		s.h3server = http3.New(s.cfg, s.wsHandler, s.router)
		go s.startServer(ctx, func(serverCtx context.Context) error {
			return s.h3server.ListenAndServe(serverCtx, tlsConf.Clone())
		})
	}
	s.wait(ctx)
	s.shutDown(cancel) //nolint:contextcheck // Nope, we want to gracefully shutdown on a different context.
}

func (s *srv) tlsConfig() *tls.Config {
	if !s.cfg.TLS() {
		return nil
	}
	certs, err := NewCertReloader(s.cfg.CertPath, s.cfg.KeyPath)
	if err != nil {
		log.Panic(errors.Wrap(err, "failed to set up tls"))
	}
	s.certs = certs

	return certs.TLSConfig()
}

func (s *srv) startServer(ctx context.Context, listenAndServe func(ctx context.Context) error) {
	defer log.Printf("server stopped listening")
	log.Printf("server started listening on %v...", s.cfg.Port)

	isUnexpectedError := func(err error) bool {
		return err != nil &&
			!errors.Is(err, io.EOF) &&
			!errors.Is(err, http.ErrServerClosed)
	}

	if err := listenAndServe(ctx); isUnexpectedError(err) {
		s.quit <- syscall.SIGTERM
		log.Printf("ERROR:%v", errors.Wrap(err, "listenAndServe failed"))
	}
}

func (s *srv) wait(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	s.quit = quit
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-quit:
	}
}

func (s *srv) shutDown(cancel context.CancelFunc) {
	defer cancel()
	ctx, cancelShutdown := context.WithCancel(context.Background())
	defer cancelShutdown()
	if s.certs != nil {
		if err := s.certs.Close(); err != nil {
			log.Printf("ERROR:%v", errors.Wrap(err, "failed to stop tls material watcher"))
		}
	}
	s.shutdownServer(ctx, s.h1server)
	if s.h3server != nil {
		s.shutdownServer(ctx, s.h3server)
	}
}

func (*srv) shutdownServer(ctx context.Context, server interface {
	Shutdown(ctx context.Context) error
}) {
	log.Printf("shutting down server...")

	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("ERROR:%v", errors.Wrap(err, "server shutdown failed"))
	} else {
		log.Printf("server shutdown succeeded")
	}
}
