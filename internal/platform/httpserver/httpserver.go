package httpserver

import (
	"net/http"
	"time"

	"consular/internal/platform/config"
)

// New builds an HTTP server with the project's timeouts. Long-lived streams
// clear their own write deadline through http.ResponseController.
func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}
