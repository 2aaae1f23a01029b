// Package server is the inbound HTTP surface: the provider webhook,
// the admin quota endpoints and the QR redemption API. It owns payload
// parsing only; every decision lives in the flow dispatcher and the
// store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"promobot/internal/flow"
	"promobot/internal/storage"
)

type Config struct {
	Addr        string
	VerifyToken string
}

type Server struct {
	cfg        Config
	dispatcher *flow.Dispatcher
	store      storage.Store
	log        zerolog.Logger
	http       *http.Server
}

func New(cfg Config, d *flow.Dispatcher, st storage.Store, log zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	s := &Server{cfg: cfg, dispatcher: d, store: st, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/webhook", s.handleVerify)
	r.Post("/webhook", s.handleWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/quota", s.handleQuotaGet)
		r.Post("/quota", s.handleQuotaSet)
	})

	r.Route("/api/qr", func(r chi.Router) {
		r.Get("/status/{phone}", s.handleQRStatus)
		r.Post("/redeem/{phone}", s.handleQRRedeem)
	})

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is done, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server started")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(sctx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
