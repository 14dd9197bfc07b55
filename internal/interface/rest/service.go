package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/cloutprotocol/zatoshid/internal/core/application"
)

// Config carries the HTTP surface settings. An empty AuthSecret disables
// request authentication, which is only acceptable behind a trusted proxy.
type Config struct {
	Host       string
	Port       uint32
	AuthSecret string
}

type Server struct {
	httpServer *http.Server
}

func NewServer(cfg Config, appSvc application.Service) *Server {
	h := newHandler(appSvc, cfg.AuthSecret)

	r := chi.NewRouter()
	r.Use(loggingMiddleware)

	r.Get("/healthcheck", h.healthCheck)

	r.Route("/v1", func(r chi.Router) {
		if len(cfg.AuthSecret) > 0 {
			r.Use(hmacAuthMiddleware(cfg.AuthSecret))
		}

		r.Post("/inscriptions", h.startInscription)
		r.Get("/inscriptions/{id}", h.getContext)
		r.Post("/inscriptions/{id}/commit-signatures", h.submitCommitSignatures)
		r.Post("/inscriptions/{id}/reveal-signature", h.submitRevealSignature)
		r.Post("/inscriptions/{id}/retry-reveal", h.retryReveal)
		r.Post("/inscriptions/{id}/abort", h.abort)

		r.Post("/batches", h.startBatch)
		r.Get("/batches/{id}", h.getBatch)
		r.Post("/batches/{id}/cancel", h.cancelBatch)
		r.Post("/batches/{id}/resume", h.resumeBatch)

		r.Post("/listings", h.createListing)
		r.Get("/listings/{id}", h.getListing)
		r.Post("/listings/{id}/signature", h.submitListingSignature)
		r.Post("/listings/{id}/cancel", h.cancelListing)
		r.Post("/listings/{id}/fill", h.fillListing)
		r.Post("/swaps/{id}/signatures", h.submitFillSignatures)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	log.Infof("rest server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// nolint:errcheck
	s.httpServer.Shutdown(ctx)
	log.Debug("rest server stopped")
}
