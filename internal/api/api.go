package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"support-dispatch-backend/internal/archive"
	"support-dispatch-backend/internal/queue"
	"support-dispatch-backend/internal/service/dispatch"
	"support-dispatch-backend/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	dispatcher          *dispatch.Dispatcher
	handler             *websocket.Handler
	archive             archive.Reader
	routeRegistrars     []RouteRegistrar
	allowedOrigins      []string
	metrics             *metrics
}

func NewAPIServer(listenAddr string, rqm *queue.RequestQueueManager, d *dispatch.Dispatcher, handler *websocket.Handler, registrars ...RouteRegistrar) *APIServer {
	return NewAPIServerWithRegistry(listenAddr, rqm, d, handler, prometheus.DefaultRegisterer, registrars...)
}

// NewAPIServerWithRegistry registers the HTTP collectors on reg. When reg
// is also a Gatherer, /metrics serves from it.
func NewAPIServerWithRegistry(listenAddr string, rqm *queue.RequestQueueManager, d *dispatch.Dispatcher, handler *websocket.Handler, reg prometheus.Registerer, registrars ...RouteRegistrar) *APIServer {
	return &APIServer{
		listenAddr:          listenAddr,
		requestQueueManager: rqm,
		dispatcher:          d,
		handler:             handler,
		routeRegistrars:     registrars,
		allowedOrigins:      []string{"http://localhost:3000"},
		metrics:             newMetrics(reg, listenAddr, rqm),
	}
}

// SetAllowedOrigins replaces the CORS origin list used by handlers built
// after the call.
func (s *APIServer) SetAllowedOrigins(origins []string) {
	if len(origins) > 0 {
		s.allowedOrigins = origins
	}
}

func (s *APIServer) HTTPHandler() http.Handler {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	return s.metrics.instrument(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("[API] listening on http://localhost%s", s.listenAddr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] shutdown: %v", err)
		return err
	}
	log.Printf("[API] server stopped")
	return nil
}

func (s *APIServer) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// SetArchive lets the admin views fall back to cold storage for sessions
// the dispatcher no longer holds.
func (s *APIServer) SetArchive(r archive.Reader) {
	s.archive = r
}

func (s *APIServer) Archive() archive.Reader {
	return s.archive
}

func (s *APIServer) Handler() *websocket.Handler {
	return s.handler
}
