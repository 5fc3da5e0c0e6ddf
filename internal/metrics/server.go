package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const gracefulShutdownTimeout = 5 * time.Second

// Server serves /metrics and a liveness probe.
type Server struct {
	bindAddress string
	httpServer  *http.Server
	listener    net.Listener
	log         *logger.Logger
}

// NewServer builds a metrics server bound to an already opened listener.
func NewServer(listener net.Listener, log *logger.Logger) *Server {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		bindAddress: listener.Addr().String(),
		listener:    listener,
		log:         log,
		httpServer: &http.Server{
			Addr:              listener.Addr().String(),
			Handler:           router,
			ReadHeaderTimeout: gracefulShutdownTimeout,
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.httpServer.SetKeepAlivesEnabled(false)
		_ = s.httpServer.Shutdown(ctxTimeout)
		s.log.Info("metrics server terminated")
	}()

	s.log.Info("serving metrics: %s", s.bindAddress)

	err := s.httpServer.Serve(s.listener)
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
