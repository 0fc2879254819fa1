package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/tinytelemetry/logtally/internal/model"
	"github.com/tinytelemetry/logtally/internal/protocol"
)

// ClientConfig holds optional client settings.
type ClientConfig struct {
	// ChunkSize splits file uploads and sizes transport I/O. Zero uses the
	// protocol default.
	ChunkSize int
}

// Client drives one analysis dialog over a single connection. It is not
// safe for concurrent use. Any failure moves it to StateFailed and closes
// the connection; the client never retries.
type Client struct {
	conn      net.Conn
	codec     *protocol.Codec
	chunkSize int
	state     State
	filesSent int
}

// Dial connects to a server at addr.
func Dial(ctx context.Context, addr string, conf ...ClientConfig) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transfer: dial %s: %w", addr, err)
	}
	return NewClient(conn, conf...), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, conf ...ClientConfig) *Client {
	chunkSize := 0
	if len(conf) > 0 {
		chunkSize = conf[0].ChunkSize
	}
	codec := protocol.NewCodec(conn, chunkSize)
	return &Client{
		conn:      conn,
		codec:     codec,
		chunkSize: codec.ChunkSize(),
		state:     StateIdle,
	}
}

// State returns the client's current state.
func (c *Client) State() State { return c.state }

// FilesSent returns the number of acknowledged file uploads.
func (c *Client) FilesSent() int { return c.filesSent }

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) fail(err error) error {
	c.state = StateFailed
	_ = c.conn.Close()
	return err
}

func (c *Client) expect(s State, op string) error {
	if c.state != s {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, c.state)
	}
	return nil
}

// SendRequest sends the analysis directive that opens the dialog.
func (c *Client) SendRequest(req model.AnalysisRequest) error {
	if err := c.expect(StateIdle, "send request"); err != nil {
		return err
	}
	c.state = StateSendingRequest
	if err := c.codec.Send(protocol.TypeRequest, protocol.EncodeRequest(req)); err != nil {
		return c.fail(fmt.Errorf("transfer: send request: %w", err))
	}
	c.state = StateTransferringFiles
	return nil
}

// SendFile uploads the file at path under its base name and waits for the
// server's acknowledgment. A file that cannot be read aborts the transfer.
func (c *Client) SendFile(path string) error {
	if err := c.expect(StateTransferringFiles, "send file"); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return c.fail(fmt.Errorf("transfer: open %s: %w", path, err))
	}
	defer f.Close()
	return c.SendFileFrom(filepath.Base(path), f)
}

// SendFileFrom uploads r under name in fixed-size chunks and waits for the
// server's acknowledgment.
func (c *Client) SendFileFrom(name string, r io.Reader) error {
	if err := c.expect(StateTransferringFiles, "send file"); err != nil {
		return err
	}
	if err := c.codec.SendString(protocol.TypeFileStart, name); err != nil {
		return c.fail(fmt.Errorf("transfer: send file start %s: %w", name, err))
	}

	buf := make([]byte, c.chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if sendErr := c.codec.Send(protocol.TypeFileChunk, buf[:n]); sendErr != nil {
				return c.fail(fmt.Errorf("transfer: send chunk of %s: %w", name, sendErr))
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return c.fail(fmt.Errorf("transfer: read %s: %w", name, err))
		}
	}

	if err := c.codec.Send(protocol.TypeFileEnd, nil); err != nil {
		return c.fail(fmt.Errorf("transfer: send file end %s: %w", name, err))
	}
	if err := c.awaitAck(name); err != nil {
		return c.fail(err)
	}
	c.filesSent++
	return nil
}

func (c *Client) awaitAck(name string) error {
	msg, err := c.codec.Receive()
	if err != nil {
		return fmt.Errorf("transfer: await ack for %s: %w", name, err)
	}
	switch msg.Type {
	case protocol.TypeAck:
		return nil
	case protocol.TypeError:
		return &ServerError{Message: string(msg.Payload)}
	default:
		return violation("expected %s for %s, got %s", protocol.TypeAck, name, msg.Type)
	}
}

// SendFiles uploads each path in order.
func (c *Client) SendFiles(paths []string) error {
	for _, p := range paths {
		if err := c.SendFile(p); err != nil {
			return err
		}
	}
	return nil
}

// EndTransfer tells the server that no more files follow.
func (c *Client) EndTransfer() error {
	if err := c.expect(StateTransferringFiles, "end transfer"); err != nil {
		return err
	}
	if err := c.codec.Send(protocol.TypeFileEnd, nil); err != nil {
		return c.fail(fmt.Errorf("transfer: send transfer end: %w", err))
	}
	c.state = StateAwaitingResult
	return nil
}

// ReceiveResult waits for the server's single reply to the transfer.
func (c *Client) ReceiveResult() (model.AnalysisResult, error) {
	if err := c.expect(StateAwaitingResult, "receive result"); err != nil {
		return model.AnalysisResult{}, err
	}
	msg, err := c.codec.Receive()
	if err != nil {
		return model.AnalysisResult{}, c.fail(fmt.Errorf("transfer: receive result: %w", err))
	}
	switch msg.Type {
	case protocol.TypeResult:
		res, err := protocol.DecodeResult(msg.Payload)
		if err != nil {
			return model.AnalysisResult{}, c.fail(fmt.Errorf("transfer: %w", err))
		}
		c.state = StateDone
		return res, nil
	case protocol.TypeError:
		return model.AnalysisResult{}, c.fail(&ServerError{Message: string(msg.Payload)})
	default:
		return model.AnalysisResult{}, c.fail(violation("expected %s, got %s", protocol.TypeResult, msg.Type))
	}
}

// Analyze runs the whole dialog: request, every file, transfer end and
// result. Cancelling ctx interrupts blocked I/O and fails the client.
func (c *Client) Analyze(ctx context.Context, req model.AnalysisRequest, files []string) (model.AnalysisResult, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	res, err := c.run(req, files)
	if err != nil && ctx.Err() != nil {
		return res, fmt.Errorf("transfer: %w (%v)", ctx.Err(), err)
	}
	return res, err
}

func (c *Client) run(req model.AnalysisRequest, files []string) (model.AnalysisResult, error) {
	if err := c.SendRequest(req); err != nil {
		return model.AnalysisResult{}, err
	}
	if err := c.SendFiles(files); err != nil {
		return model.AnalysisResult{}, err
	}
	if err := c.EndTransfer(); err != nil {
		return model.AnalysisResult{}, err
	}
	return c.ReceiveResult()
}
