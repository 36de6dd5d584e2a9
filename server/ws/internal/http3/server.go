// SPDX-License-Identifier: MIT

package http3

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/statewire/statewire/server/ws/internal/adapters"
	"github.com/statewire/statewire/server/ws/internal/config"
)

type (
	Server struct {
		cfg       *config.Config
		wsHandler adapters.WSHandler
		handler   http.Handler
		wtServer  *webtransport.Server
	}
)

const webtransportProtocol = "webtransport"

func New(cfg *config.Config, wsHandler adapters.WSHandler, handler http.Handler) *Server {
	s := &Server{cfg: cfg, wsHandler: wsHandler, handler: handler}
	s.wtServer = &webtransport.Server{
		H3: http3.Server{
			Addr:            fmt.Sprintf(":%v", cfg.Port),
			EnableDatagrams: true,
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	s.wtServer.H3.Handler = http.HandlerFunc(s.handle)

	return s
}

func (s *Server) ListenAndServe(_ context.Context, tlsConf *tls.Config) error {
	s.wtServer.H3.TLSConfig = tlsConf
	if err := s.wtServer.ListenAndServe(); err != nil {
		return errors.Wrap(err, "failed to start http3/udp server")
	}

	return nil
}

func (s *Server) handle(writer http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect && req.Proto == webtransportProtocol {
		s.handleWebTransport(writer, req)

		return
	}
	if s.handler != nil {
		s.handler.ServeHTTP(writer, req)

		return
	}
	writer.WriteHeader(http.StatusMethodNotAllowed)
}

func (s *Server) handleWebTransport(writer http.ResponseWriter, req *http.Request) {
	session, err := s.wtServer.Upgrade(writer, req)
	if err != nil {
		log.Printf("ERROR:%v", errors.Wrap(err, "upgrading webtransport session failed"))
		writer.WriteHeader(http.StatusBadRequest)

		return
	}
	stream, err := session.AcceptStream(req.Context())
	if err != nil {
		log.Printf("ERROR:%v", errors.Wrap(err, "failed to accept webtransport stream"))
		_ = session.CloseWithError(0, "") //nolint:errcheck // Already failing.

		return
	}
	wsocket, ctx := adapters.NewWebTransportAdapter(req.Context(), session, stream, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
	go func() {
		defer func() {
			if clErr := wsocket.Close(); clErr != nil {
				log.Printf("ERROR:%v", errors.Wrap(clErr, "failed to close webtransport conn"))
			}
		}()
		go wsocket.Write(ctx)
		s.wsHandler.Read(ctx, wsocket)
	}()
}

func (s *Server) Shutdown(_ context.Context) error {
	if err := s.wtServer.Close(); err != nil {
		return errors.Wrap(err, "failed to close http3/udp server")
	}

	return nil
}
