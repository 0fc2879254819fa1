package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/logtally/internal/journal"
	"github.com/tinytelemetry/logtally/internal/tcpserver"
	"github.com/tinytelemetry/logtally/internal/transfer"
)

const defaultDiagnosticsLimit = 50

// StatusSource is the narrow view of the transfer server the API reports on.
type StatusSource interface {
	Stats() tcpserver.Stats
	Sessions() []transfer.SessionInfo
	RecentSessions() []transfer.SessionInfo
}

// DiagnosticsSource lists recent per-file analysis failures.
type DiagnosticsSource interface {
	Recent(n int) []journal.Diagnostic
}

// Server provides a read-only HTTP API over transfer server status.
type Server struct {
	addr        string
	status      StatusSource
	diagnostics DiagnosticsSource
	server      *http.Server
	listener    net.Listener
	ctx         context.Context
	cancel      context.CancelFunc
	startTime   time.Time
}

// NewServer creates a new status API server. diagnostics may be nil.
func NewServer(addr string, status StatusSource, diagnostics DiagnosticsSource) *Server {
	if addr == "" {
		addr = "127.0.0.1:8081"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		status:      status,
		diagnostics: diagnostics,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/sessions", s.handleSessions)
	r.GET("/api/diagnostics", s.handleDiagnostics)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.status.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"addr":      st.Addr,
		"accepted":  st.Accepted,
		"active":    st.Active,
		"completed": st.Completed,
		"failed":    st.Failed,
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	live := s.status.Sessions()
	recent := s.status.RecentSessions()
	c.JSON(http.StatusOK, gin.H{
		"active":       live,
		"active_count": len(live),
		"recent":       recent,
	})
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	if s.diagnostics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "diagnostics journal is disabled"})
		return
	}

	limit := defaultDiagnosticsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries := s.diagnostics.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
