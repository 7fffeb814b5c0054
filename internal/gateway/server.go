package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	httpapi "github.com/mFahadNoor/whop-ai-support-sub000/internal/http"
	"github.com/mFahadNoor/whop-ai-support-sub000/pkg/protocol"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status          string `json:"status"`
	Protocol        int    `json:"protocol"`
	StreamConnected bool   `json:"stream_connected"`
	Mappings        int    `json:"mappings"`
	Pending         int    `json:"pending"`
}

// Server is the admin HTTP server: health plus the tenant API.
type Server struct {
	addr    string
	tenants *httpapi.TenantsHandler
	health  func() HealthStatus

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the admin server. health may be nil.
func NewServer(addr string, tenants *httpapi.TenantsHandler, health func() HealthStatus) *Server {
	return &Server{addr: addr, tenants: tenants, health: health}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.tenants != nil {
		s.tenants.RegisterRoutes(mux)
	}
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("admin server starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "ok"}
	if s.health != nil {
		status = s.health()
	}
	status.Protocol = protocol.ProtocolVersion
	if status.Status == "" {
		status.Status = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}
