package admin

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/log"
	"nwcp.dev/pkg/version"
)

// Server hosts the admin API over HTTP.
type Server struct {
	Addr       string
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the router and registers every operation.
func NewServer(addr string, ops *Operations) *Server {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("nwcp admin", version.V))
	huma.AutoRegister(api, ops)
	return &Server{Addr: addr, router: router}
}

// Start listens and serves until Shutdown.
func (s *Server) Start() (err error) {
	var listener net.Listener
	if listener, err = net.Listen("tcp", s.Addr); chk.E(err) {
		return
	}
	s.httpServer = &http.Server{
		Handler:           cors.Default().Handler(s.router),
		Addr:              s.Addr,
		ReadHeaderTimeout: 7 * time.Second,
		IdleTimeout:       28 * time.Second,
	}
	log.I.F("admin API listening on %s", s.Addr)
	if err = s.httpServer.Serve(listener); errors.Is(
		err, http.ErrServerClosed,
	) {
		return nil
	} else if chk.E(err) {
		return
	}
	return
}

// Shutdown stops accepting connections and drains the server.
func (s *Server) Shutdown(ctx context.T) {
	if s.httpServer != nil {
		chk.E(s.httpServer.Shutdown(ctx))
	}
}
