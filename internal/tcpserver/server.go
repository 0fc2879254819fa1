package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/logtally/internal/model"
	"github.com/tinytelemetry/logtally/internal/protocol"
	"github.com/tinytelemetry/logtally/internal/transfer"
	"github.com/tinytelemetry/logtally/internal/workspace"
)

const (
	// DefaultRecentSessions is how many finished sessions are kept for status.
	DefaultRecentSessions = 32

	acceptBackoff = 10 * time.Millisecond
)

// DefaultAddr is the listen address used when none is given.
var DefaultAddr = fmt.Sprintf("0.0.0.0:%d", model.DefaultPort)

// ServerConfig holds tunable parameters for the transfer server.
type ServerConfig struct {
	// WorkspaceDir holds per-session scratch directories. Empty uses a
	// temporary directory.
	WorkspaceDir string
	// ChunkSize sizes transport reads and writes.
	ChunkSize int
	// RecentSessions caps the finished-session history.
	RecentSessions int
	// NewID generates session ids. Defaults to random UUIDs.
	NewID func() string
}

// Stats are the server's lifetime counters.
type Stats struct {
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Accepted  uint64    `json:"accepted"`
	Active    int       `json:"active"`
	Completed uint64    `json:"completed"`
	Failed    uint64    `json:"failed"`
}

type liveSession struct {
	sess *transfer.ServerSession
	conn net.Conn
}

// Server accepts transfer connections and runs one session per connection.
type Server struct {
	listener  net.Listener
	addr      string
	analyze   transfer.AnalyzeFunc
	wsDir     string
	root      *workspace.Root
	chunkSize int
	maxRecent int
	newID     func() string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	stop    sync.Once

	startedAt time.Time
	accepted  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64

	mu     sync.Mutex
	live   map[string]liveSession
	recent []transfer.SessionInfo
}

// NewServer creates a transfer server that analyzes uploads with analyze.
// Default addr is DefaultAddr.
func NewServer(addr string, analyze transfer.AnalyzeFunc, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:      addr,
		analyze:   analyze,
		maxRecent: DefaultRecentSessions,
		newID:     uuid.NewString,
		live:      make(map[string]liveSession),
	}
	if len(conf) > 0 {
		c := conf[0]
		s.wsDir = c.WorkspaceDir
		s.chunkSize = c.ChunkSize
		if c.RecentSessions > 0 {
			s.maxRecent = c.RecentSessions
		}
		if c.NewID != nil {
			s.newID = c.NewID
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start prepares the workspace root and begins accepting connections.
func (s *Server) Start() error {
	if s.analyze == nil {
		return errors.New("tcpserver: nil analyze func")
	}
	root, err := workspace.OpenRoot(s.wsDir)
	if err != nil {
		return err
	}
	if n, err := root.Prune(); err != nil {
		log.Printf("tcpserver: prune stale workspaces: %v", err)
	} else if n > 0 {
		log.Printf("tcpserver: removed %d stale session workspaces", n)
	}
	s.root = root

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcpserver: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					log.Printf("tcpserver: accept: %v", err)
					time.Sleep(acceptBackoff)
					continue
				}
			}
			s.accepted.Add(1)
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	id := s.newID()
	ws, err := s.root.New(id)
	if err != nil {
		log.Printf("tcpserver: session %s from %s: %v", id, conn.RemoteAddr(), err)
		_ = protocol.WriteMessage(conn, protocol.TypeError, []byte("server cannot allocate a workspace"))
		s.failed.Add(1)
		return
	}
	defer ws.Remove()

	sess := transfer.NewServerSession(id, conn, ws, s.analyze, transfer.SessionConfig{ChunkSize: s.chunkSize})
	s.mu.Lock()
	s.live[id] = liveSession{sess: sess, conn: conn}
	s.mu.Unlock()

	if !s.running.Load() {
		sess.InterruptIdle(func() { _ = conn.SetReadDeadline(time.Now()) })
	}

	log.Printf("tcpserver: session %s opened from %s", id, conn.RemoteAddr())
	res, err := sess.Serve()
	if err != nil {
		s.failed.Add(1)
		log.Printf("tcpserver: session %s failed: %v", id, err)
	} else {
		s.completed.Add(1)
		log.Printf("tcpserver: session %s done: %s over %d entries", id, res.Dimension, res.TotalEntries)
	}

	s.mu.Lock()
	delete(s.live, id)
	s.recent = append(s.recent, sess.Info())
	if over := len(s.recent) - s.maxRecent; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
	s.mu.Unlock()
}

// Stop closes the listener and waits for the accept loop and every session
// that is transferring or analyzing. Sessions still waiting for their
// request are interrupted.
func (s *Server) Stop() error {
	s.stop.Do(func() {
		s.running.Store(false)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}

		s.mu.Lock()
		for _, ls := range s.live {
			conn := ls.conn
			ls.sess.InterruptIdle(func() { _ = conn.SetReadDeadline(time.Now()) })
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}

// Serve starts the server, waits for ctx to be cancelled and stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool { return s.running.Load() }

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// WorkspaceDir returns the workspace root, or the configured directory
// before Start.
func (s *Server) WorkspaceDir() string {
	if s.root != nil {
		return s.root.Dir()
	}
	return s.wsDir
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	active := len(s.live)
	s.mu.Unlock()
	return Stats{
		Addr:      s.Addr(),
		StartedAt: s.startedAt,
		Accepted:  s.accepted.Load(),
		Active:    active,
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}

// Sessions returns the live sessions, oldest first.
func (s *Server) Sessions() []transfer.SessionInfo {
	s.mu.Lock()
	out := make([]transfer.SessionInfo, 0, len(s.live))
	for _, ls := range s.live {
		out = append(out, ls.sess.Info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// RecentSessions returns finished sessions, oldest first.
func (s *Server) RecentSessions() []transfer.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transfer.SessionInfo(nil), s.recent...)
}
