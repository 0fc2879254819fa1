package transfer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/logtally/internal/analyzer"
	"github.com/tinytelemetry/logtally/internal/model"
	"github.com/tinytelemetry/logtally/internal/protocol"
	"github.com/tinytelemetry/logtally/internal/workspace"
)

func analyzeWith(req model.AnalysisRequest, files []string) (model.AnalysisResult, error) {
	return analyzer.New(req).Analyze(files), nil
}

func newWorkspace(t *testing.T, id string) *workspace.Workspace {
	t.Helper()
	root, err := workspace.OpenRoot(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	ws, err := root.New(id)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ws
}

type serveResult struct {
	res model.AnalysisResult
	err error
}

func startSession(t *testing.T, analyze AnalyzeFunc, conf ...SessionConfig) (*ServerSession, net.Conn, <-chan serveResult) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := NewServerSession("test", serverConn, newWorkspace(t, "test"), analyze, conf...)
	done := make(chan serveResult, 1)
	go func() {
		res, err := sess.Serve()
		serverConn.Close()
		done <- serveResult{res, err}
	}()
	t.Cleanup(func() { clientConn.Close() })
	return sess, clientConn, done
}

func waitServe(t *testing.T, done <-chan serveResult) serveResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return serveResult{}
	}
}

func writeLogs(t *testing.T, files map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestSession_TwoFilesByLevel(t *testing.T) {
	t.Parallel()

	sess, conn, done := startSession(t, analyzeWith)
	files := writeLogs(t, map[string]string{
		"a.txt": "2023-01-01|alice|10.0.0.1|INFO\n2023-01-02|bob|10.0.0.2|INFO\n2023-01-03|carol|10.0.0.3|ERROR\n",
		"b.txt": "2023-01-04|dave|10.0.0.4|INFO\n2023-01-05|erin|10.0.0.5|WARN\n",
	})

	client := NewClient(conn)
	res, err := client.Analyze(context.Background(), model.AnalysisRequest{Dimension: model.DimensionLevel}, files)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if client.State() != StateDone || client.FilesSent() != 2 {
		t.Fatalf("client state = %s, files sent = %d", client.State(), client.FilesSent())
	}
	if res.TotalEntries != 5 || res.Counts["INFO"] != 3 || res.Counts["ERROR"] != 1 || res.Counts["WARN"] != 1 || len(res.Counts) != 3 {
		t.Fatalf("result = %+v", res)
	}

	r := waitServe(t, done)
	if r.err != nil {
		t.Fatalf("Serve: %v", r.err)
	}
	info := sess.Info()
	if info.State != "done" || info.FilesReceived != 2 || info.Dimension != "LOG_LEVEL" {
		t.Fatalf("Info() = %+v", info)
	}
}

func TestSession_EmptyFileSet(t *testing.T) {
	t.Parallel()

	_, conn, done := startSession(t, analyzeWith)
	client := NewClient(conn)
	res, err := client.Analyze(context.Background(), model.AnalysisRequest{Dimension: model.DimensionUser}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.TotalEntries != 0 || len(res.Counts) != 0 || res.Dimension != model.DimensionUser {
		t.Fatalf("result = %+v", res)
	}
	if r := waitServe(t, done); r.err != nil {
		t.Fatalf("Serve: %v", r.err)
	}
}

func TestSession_ChunkedUploadIsVerbatim(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 700)
	var received map[string][]byte
	capture := func(req model.AnalysisRequest, files []string) (model.AnalysisResult, error) {
		received = make(map[string][]byte)
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return model.AnalysisResult{}, err
			}
			received[filepath.Base(f)] = data
		}
		return model.NewAnalysisResult(req.Dimension), nil
	}

	sess, conn, done := startSession(t, capture, SessionConfig{ChunkSize: 100})
	client := NewClient(conn, ClientConfig{ChunkSize: 1000})
	if err := client.SendRequest(model.AnalysisRequest{Dimension: model.DimensionUser}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := client.SendFileFrom("big.log", bytes.NewReader(payload)); err != nil {
		t.Fatalf("SendFileFrom: %v", err)
	}
	if err := client.SendFileFrom("empty.log", bytes.NewReader(nil)); err != nil {
		t.Fatalf("SendFileFrom empty: %v", err)
	}
	if err := client.EndTransfer(); err != nil {
		t.Fatalf("EndTransfer: %v", err)
	}
	if _, err := client.ReceiveResult(); err != nil {
		t.Fatalf("ReceiveResult: %v", err)
	}
	if r := waitServe(t, done); r.err != nil {
		t.Fatalf("Serve: %v", r.err)
	}

	if !bytes.Equal(received["big.log"], payload) {
		t.Fatalf("big.log: got %d bytes, want %d", len(received["big.log"]), len(payload))
	}
	if data, ok := received["empty.log"]; !ok || len(data) != 0 {
		t.Fatalf("empty.log = %q, present %v", data, ok)
	}
	if info := sess.Info(); info.BytesReceived != int64(len(payload)) {
		t.Fatalf("BytesReceived = %d, want %d", info.BytesReceived, len(payload))
	}
}

func TestSession_FirstMessageMustBeRequest(t *testing.T) {
	t.Parallel()

	sess, conn, done := startSession(t, analyzeWith)
	if err := protocol.WriteMessage(conn, protocol.TypeFileChunk, []byte("oops")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	reply, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if reply.Type != protocol.TypeError {
		t.Fatalf("reply type = %s, want %s", reply.Type, protocol.TypeError)
	}

	r := waitServe(t, done)
	if !errors.Is(r.err, ErrProtocolViolation) {
		t.Fatalf("Serve error = %v, want ErrProtocolViolation", r.err)
	}
	if sess.State() != StateFailed {
		t.Fatalf("state = %s, want failed", sess.State())
	}
}

func TestSession_Violations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []protocol.Message
	}{
		{"chunk outside file", []protocol.Message{
			{Type: protocol.TypeRequest, Payload: []byte("USER|NONE|NONE")},
			{Type: protocol.TypeFileChunk, Payload: []byte("x")},
		}},
		{"nested file start", []protocol.Message{
			{Type: protocol.TypeRequest, Payload: []byte("USER|NONE|NONE")},
			{Type: protocol.TypeFileStart, Payload: []byte("a.txt")},
			{Type: protocol.TypeFileStart, Payload: []byte("b.txt")},
		}},
		{"second request", []protocol.Message{
			{Type: protocol.TypeRequest, Payload: []byte("USER|NONE|NONE")},
			{Type: protocol.TypeRequest, Payload: []byte("USER|NONE|NONE")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, conn, done := startSession(t, analyzeWith)
			for _, m := range tt.msgs {
				if err := protocol.WriteMessage(conn, m.Type, m.Payload); err != nil {
					t.Fatalf("WriteMessage: %v", err)
				}
			}
			reply, err := protocol.ReadMessage(conn)
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if reply.Type != protocol.TypeError {
				t.Fatalf("reply = %s %q, want Error", reply.Type, reply.Payload)
			}
			if r := waitServe(t, done); !errors.Is(r.err, ErrProtocolViolation) {
				t.Fatalf("Serve error = %v, want ErrProtocolViolation", r.err)
			}
		})
	}
}

func TestSession_InvalidRequestIsRejected(t *testing.T) {
	t.Parallel()

	_, conn, done := startSession(t, analyzeWith)
	if err := protocol.WriteMessage(conn, protocol.TypeRequest, []byte("HOSTNAME|NONE|NONE")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	reply, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if reply.Type != protocol.TypeError || !strings.Contains(string(reply.Payload), "invalid request") {
		t.Fatalf("reply = %s %q", reply.Type, reply.Payload)
	}
	if r := waitServe(t, done); !errors.Is(r.err, protocol.ErrMalformedPayload) {
		t.Fatalf("Serve error = %v, want ErrMalformedPayload", r.err)
	}
}

func TestSession_AnalysisErrorIsReported(t *testing.T) {
	t.Parallel()

	broken := func(model.AnalysisRequest, []string) (model.AnalysisResult, error) {
		return model.AnalysisResult{}, errors.New("out of memory")
	}
	sess, conn, done := startSession(t, broken)
	client := NewClient(conn)
	_, err := client.Analyze(context.Background(), model.AnalysisRequest{Dimension: model.DimensionUser}, nil)

	var serr *ServerError
	if !errors.As(err, &serr) || !strings.Contains(serr.Message, "out of memory") {
		t.Fatalf("Analyze error = %v, want ServerError", err)
	}
	if client.State() != StateFailed {
		t.Fatalf("client state = %s, want failed", client.State())
	}
	waitServe(t, done)
	if sess.State() != StateFailed {
		t.Fatalf("session state = %s, want failed", sess.State())
	}
}

func TestSession_BadFileNameIsReported(t *testing.T) {
	t.Parallel()

	_, conn, done := startSession(t, analyzeWith)
	for _, m := range []protocol.Message{
		{Type: protocol.TypeRequest, Payload: []byte("USER|NONE|NONE")},
		{Type: protocol.TypeFileStart, Payload: []byte("..")},
	} {
		if err := protocol.WriteMessage(conn, m.Type, m.Payload); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	reply, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if reply.Type != protocol.TypeError {
		t.Fatalf("reply = %s, want Error", reply.Type)
	}
	if r := waitServe(t, done); !errors.Is(r.err, workspace.ErrInvalidName) {
		t.Fatalf("Serve error = %v, want ErrInvalidName", r.err)
	}
}

// fakeServer runs script against the server end of a pipe.
func fakeServer(t *testing.T, script func(c *protocol.Codec)) net.Conn {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		script(protocol.NewCodec(serverConn, 0))
	}()
	t.Cleanup(func() { clientConn.Close() })
	return clientConn
}

func drainFile(c *protocol.Codec) bool {
	for {
		msg, err := c.Receive()
		if err != nil {
			return false
		}
		if msg.Type == protocol.TypeFileEnd {
			return true
		}
	}
}

func TestClient_ErrorInsteadOfAck(t *testing.T) {
	t.Parallel()

	conn := fakeServer(t, func(c *protocol.Codec) {
		if _, err := c.Receive(); err != nil {
			return
		}
		if drainFile(c) {
			c.SendString(protocol.TypeError, "disk full")
		}
	})

	client := NewClient(conn)
	if err := client.SendRequest(model.AnalysisRequest{Dimension: model.DimensionUser}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	err := client.SendFileFrom("a.txt", strings.NewReader("data"))
	var serr *ServerError
	if !errors.As(err, &serr) || serr.Message != "disk full" {
		t.Fatalf("SendFileFrom error = %v, want ServerError(disk full)", err)
	}
	if client.State() != StateFailed {
		t.Fatalf("state = %s, want failed", client.State())
	}
	if err := client.EndTransfer(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("EndTransfer after failure = %v, want ErrInvalidState", err)
	}
}

func TestClient_UnexpectedAckType(t *testing.T) {
	t.Parallel()

	conn := fakeServer(t, func(c *protocol.Codec) {
		if _, err := c.Receive(); err != nil {
			return
		}
		if drainFile(c) {
			c.Send(protocol.TypeResult, []byte("USER|0|0"))
		}
	})

	client := NewClient(conn)
	if err := client.SendRequest(model.AnalysisRequest{Dimension: model.DimensionUser}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := client.SendFileFrom("a.txt", strings.NewReader("data")); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("SendFileFrom error = %v, want ErrProtocolViolation", err)
	}
}

func TestClient_UnexpectedResultType(t *testing.T) {
	t.Parallel()

	conn := fakeServer(t, func(c *protocol.Codec) {
		for i := 0; i < 2; i++ {
			if _, err := c.Receive(); err != nil {
				return
			}
		}
		c.SendString(protocol.TypeAck, AckPayload)
	})

	client := NewClient(conn)
	_, err := client.Analyze(context.Background(), model.AnalysisRequest{Dimension: model.DimensionUser}, nil)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Analyze error = %v, want ErrProtocolViolation", err)
	}
}

func TestClient_OutOfOrderCalls(t *testing.T) {
	t.Parallel()

	conn := fakeServer(t, func(c *protocol.Codec) {})
	client := NewClient(conn)
	if err := client.SendFileFrom("a.txt", strings.NewReader("x")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("SendFileFrom before request = %v, want ErrInvalidState", err)
	}
	if _, err := client.ReceiveResult(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ReceiveResult before request = %v, want ErrInvalidState", err)
	}
	if client.State() != StateIdle {
		t.Fatalf("state = %s, want idle", client.State())
	}
}

func TestClient_MissingSourceFileAborts(t *testing.T) {
	t.Parallel()

	conn := fakeServer(t, func(c *protocol.Codec) {
		for {
			if _, err := c.Receive(); err != nil {
				return
			}
		}
	})
	client := NewClient(conn)
	missing := filepath.Join(t.TempDir(), "nope.txt")
	_, err := client.Analyze(context.Background(), model.AnalysisRequest{Dimension: model.DimensionUser}, []string{missing})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Analyze error = %v, want os.ErrNotExist", err)
	}
	if client.State() != StateFailed {
		t.Fatalf("state = %s, want failed", client.State())
	}
}

func TestClient_ContextCancelUnblocks(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	conn := fakeServer(t, func(c *protocol.Codec) {
		c.Receive()
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	files := writeLogs(t, map[string]string{"a.txt": "2023-01-01|alice|10.0.0.1|INFO\n"})
	client := NewClient(conn)
	_, err := client.Analyze(ctx, model.AnalysisRequest{Dimension: model.DimensionUser}, files)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Analyze error = %v, want context.DeadlineExceeded", err)
	}
}

func TestState_Strings(t *testing.T) {
	t.Parallel()

	for s := StateIdle; s <= StateFailed; s++ {
		if s.String() == "unknown" {
			t.Errorf("State(%d) has no name", s)
		}
	}
	if !StateDone.Terminal() || !StateFailed.Terminal() || StateAnalyzing.Terminal() {
		t.Fatal("Terminal() misclassifies states")
	}
}

func TestSession_InterruptIdle(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	sess := NewServerSession("idle", serverConn, newWorkspace(t, "idle"), analyzeWith)
	done := make(chan error, 1)
	go func() {
		_, err := sess.Serve()
		done <- err
	}()

	if !sess.InterruptIdle(func() { serverConn.SetReadDeadline(time.Now()) }) {
		t.Fatal("InterruptIdle on an idle session returned false")
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("Serve error = %v, want ErrInterrupted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupted session did not return")
	}
	if sess.InterruptIdle(func() { t.Fatal("interrupt called on a failed session") }) {
		t.Fatal("InterruptIdle on a failed session returned true")
	}
}
