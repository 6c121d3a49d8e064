package infra

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPServer runs the job-submission API. The write timeout only bounds
// the JSON endpoints: live-update websocket connections are hijacked
// during the upgrade, after which the server timeouts no longer apply.
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Start blocks serving requests. A clean close via Shutdown is not an
// error.
func (s *HTTPServer) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains open requests until ctx
// expires. Submissions already accepted keep their queued jobs; only the
// HTTP exchange is cut short.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
