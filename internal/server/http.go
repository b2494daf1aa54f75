package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	jsonwriter "github.com/dgellow/ebo-bff/internal/json"
	"github.com/dgellow/ebo-bff/internal/log"
)

// Server timeouts. Writes get extra room because planner calls sit inside
// the request.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 2 * time.Minute
)

// HTTPServer owns the listener and the http.Server serving the BFF.
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
	}
}

// Start binds the configured address and serves until Stop. It returns nil
// after a graceful shutdown.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	return h.Serve(ln)
}

// Serve serves on an existing listener.
func (h *HTTPServer) Serve(ln net.Listener) error {
	log.LogInfoWithFields("http", "Listening", map[string]any{
		"addr": ln.Addr().String(),
	})
	if err := h.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting connections and waits for in-flight requests until
// ctx expires.
func (h *HTTPServer) Stop(ctx context.Context) error {
	start := time.Now()
	if err := h.server.Shutdown(ctx); err != nil {
		return err
	}
	log.LogInfoWithFields("http", "Drained connections", map[string]any{
		"duration": time.Since(start).String(),
	})
	return nil
}

// HealthHandler answers liveness probes.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	_ = jsonwriter.WriteNoStore(w, map[string]string{"status": "ok"})
}
