package transfer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tinytelemetry/logtally/internal/model"
	"github.com/tinytelemetry/logtally/internal/protocol"
	"github.com/tinytelemetry/logtally/internal/workspace"
)

// AnalyzeFunc runs an analysis over the files a session received.
type AnalyzeFunc func(req model.AnalysisRequest, files []string) (model.AnalysisResult, error)

// SessionConfig holds optional server session settings.
type SessionConfig struct {
	ChunkSize int
}

// SessionInfo is a point-in-time view of a server session.
type SessionInfo struct {
	ID            string    `json:"id"`
	Remote        string    `json:"remote,omitempty"`
	State         string    `json:"state"`
	Dimension     string    `json:"dimension,omitempty"`
	FilesReceived int       `json:"files_received"`
	BytesReceived int64     `json:"bytes_received"`
	StartedAt     time.Time `json:"started_at"`
	Error         string    `json:"error,omitempty"`
}

// ServerSession runs the server side of one connection's dialog. The owner
// closes the connection and removes the workspace once Serve returns.
type ServerSession struct {
	id      string
	remote  string
	codec   *protocol.Codec
	ws      *workspace.Workspace
	analyze AnalyzeFunc
	started time.Time

	mu          sync.Mutex
	state       State
	req         *model.AnalysisRequest
	files       int
	bytes       int64
	err         error
	interrupted bool
}

// NewServerSession prepares a session reading from and writing to rw.
func NewServerSession(id string, rw io.ReadWriter, ws *workspace.Workspace, analyze AnalyzeFunc, conf ...SessionConfig) *ServerSession {
	chunkSize := 0
	if len(conf) > 0 {
		chunkSize = conf[0].ChunkSize
	}
	s := &ServerSession{
		id:      id,
		codec:   protocol.NewCodec(rw, chunkSize),
		ws:      ws,
		analyze: analyze,
		started: time.Now(),
		state:   StateIdle,
	}
	if conn, ok := rw.(net.Conn); ok && conn.RemoteAddr() != nil {
		s.remote = conn.RemoteAddr().String()
	}
	return s
}

// ID returns the session identifier.
func (s *ServerSession) ID() string { return s.id }

// State returns the current state.
func (s *ServerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session's progress.
func (s *ServerSession) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:            s.id,
		Remote:        s.remote,
		State:         s.state.String(),
		FilesReceived: s.files,
		BytesReceived: s.bytes,
		StartedAt:     s.started,
	}
	if s.req != nil {
		info.Dimension = s.req.Dimension.String()
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// InterruptIdle stops a session that has not yet received its request by
// calling interrupt, which should unblock the pending read. Sessions that
// are already transferring or analyzing are left alone. It reports whether
// interrupt was called.
func (s *ServerSession) InterruptIdle(interrupt func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateAwaitingRequest {
		return false
	}
	s.interrupted = true
	interrupt()
	return true
}

func (s *ServerSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Serve runs the dialog to a terminal state and returns the result that was
// sent, or the error that failed the session. Requests the server cannot
// satisfy are answered with an Error message before Serve returns.
func (s *ServerSession) Serve() (model.AnalysisResult, error) {
	if s.State() != StateIdle {
		return model.AnalysisResult{}, fmt.Errorf("%w: serve in state %s", ErrInvalidState, s.State())
	}

	s.setState(StateAwaitingRequest)
	req, err := s.receiveRequest()
	if err != nil {
		s.mu.Lock()
		interrupted := s.interrupted
		s.mu.Unlock()
		if interrupted {
			err = fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		return model.AnalysisResult{}, s.fail(err)
	}
	s.mu.Lock()
	if s.interrupted {
		s.mu.Unlock()
		return model.AnalysisResult{}, s.fail(ErrInterrupted)
	}
	s.req = &req
	s.state = StateTransferringFiles
	s.mu.Unlock()

	if err := s.receiveFiles(); err != nil {
		return model.AnalysisResult{}, s.fail(err)
	}

	s.setState(StateAnalyzing)
	res, err := s.runAnalysis(req)
	if err != nil {
		return model.AnalysisResult{}, s.fail(err)
	}
	if err := s.codec.Send(protocol.TypeResult, protocol.EncodeResult(res)); err != nil {
		return model.AnalysisResult{}, s.fail(fmt.Errorf("transfer: send result: %w", err))
	}
	s.setState(StateDone)
	return res, nil
}

func (s *ServerSession) receiveRequest() (model.AnalysisRequest, error) {
	msg, err := s.codec.Receive()
	if err != nil {
		return model.AnalysisRequest{}, fmt.Errorf("transfer: receive request: %w", err)
	}
	if msg.Type != protocol.TypeRequest {
		err := violation("expected %s, got %s", protocol.TypeRequest, msg.Type)
		return model.AnalysisRequest{}, reportable(err.Error(), err)
	}
	req, err := protocol.DecodeRequest(msg.Payload)
	if err != nil {
		return model.AnalysisRequest{}, reportable("invalid request: "+err.Error(), fmt.Errorf("transfer: %w", err))
	}
	return req, nil
}

// receiveFiles writes uploads into the workspace until the transfer-level
// FileEnd. A FileEnd inside a file closes that file; outside a file it ends
// the transfer.
func (s *ServerSession) receiveFiles() error {
	var (
		cur     *os.File
		curName string
	)
	defer func() {
		if cur != nil {
			cur.Close()
		}
	}()

	for {
		msg, err := s.codec.Receive()
		if err != nil {
			return fmt.Errorf("transfer: receive: %w", err)
		}

		switch msg.Type {
		case protocol.TypeFileStart:
			if cur != nil {
				err := violation("%s while %s is open", msg.Type, curName)
				return reportable(err.Error(), err)
			}
			f, err := s.ws.Create(string(msg.Payload))
			if err != nil {
				return reportable("cannot store file: "+err.Error(), err)
			}
			cur, curName = f, string(msg.Payload)

		case protocol.TypeFileChunk:
			if cur == nil {
				err := violation("%s outside a file", msg.Type)
				return reportable(err.Error(), err)
			}
			if _, err := cur.Write(msg.Payload); err != nil {
				return reportable("cannot store file: "+err.Error(), fmt.Errorf("transfer: write %s: %w", curName, err))
			}
			s.mu.Lock()
			s.bytes += int64(len(msg.Payload))
			s.mu.Unlock()

		case protocol.TypeFileEnd:
			if cur == nil {
				return nil
			}
			err := cur.Close()
			cur = nil
			if err != nil {
				return reportable("cannot store file: "+err.Error(), fmt.Errorf("transfer: close %s: %w", curName, err))
			}
			s.mu.Lock()
			s.files++
			s.mu.Unlock()
			if err := s.codec.SendString(protocol.TypeAck, AckPayload); err != nil {
				return fmt.Errorf("transfer: send ack: %w", err)
			}

		default:
			err := violation("unexpected %s during transfer", msg.Type)
			return reportable(err.Error(), err)
		}
	}
}

func (s *ServerSession) runAnalysis(req model.AnalysisRequest) (res model.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = reportable("analysis failed", fmt.Errorf("transfer: analysis panicked: %v", r))
		}
	}()

	files, err := s.ws.Files()
	if err != nil {
		return model.AnalysisResult{}, reportable("analysis failed: cannot list files", err)
	}
	res, err = s.analyze(req, files)
	if err != nil {
		return model.AnalysisResult{}, reportable("analysis failed: "+err.Error(), err)
	}
	return res, nil
}

// fail moves the session to StateFailed. Errors meant for the peer are sent
// as an Error message on a best-effort basis.
func (s *ServerSession) fail(err error) error {
	var pe *peerError
	if errors.As(err, &pe) {
		if sendErr := s.codec.SendString(protocol.TypeError, pe.msg); sendErr != nil {
			log.Printf("transfer: session %s: send error reply: %v", s.id, sendErr)
		}
	}
	s.mu.Lock()
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()
	return err
}
