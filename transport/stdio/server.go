// Package stdio carries page frames as JSON lines, for a native shell that
// launches the host as a child process and talks to it over stdin/stdout.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/slighter12/isocity-host-go/logger"
	"github.com/slighter12/isocity-host-go/transport/shared"
)

// TransportName identifies stdio pages in logs and page info.
const TransportName = "stdio"

const maxLineBytes = 4 << 20

// Conn is a shared.Conn over a reader and a writer, one frame per line.
type Conn struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	mu      sync.Mutex
	encoder *json.Encoder

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn frames r and w. closer, when non-nil, is closed by Close to unblock
// a pending read.
func NewConn(r io.Reader, w io.Writer, closer io.Closer) *Conn {
	return &Conn{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		closer:  closer,
		encoder: json.NewEncoder(w),
		closed:  make(chan struct{}),
	}
}

// ReadFrame returns the next decodable line. Lines longer than the frame
// limit are dropped whole.
func (c *Conn) ReadFrame() (shared.Frame, error) {
	for {
		line, err := c.readLine()
		if len(line) > 0 {
			frame, decodeErr := shared.DecodeFrame(line)
			if decodeErr == nil {
				return frame, nil
			}
			logger.Debug("Dropping stdio frame", "error", decodeErr, "bytes", len(line))
		}
		if err != nil {
			return shared.Frame{}, err
		}
	}
}

func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := c.reader.ReadSlice('\n')
		if !oversized {
			line = append(line, chunk...)
			if len(line) > maxLineBytes {
				oversized = true
				line = nil
			}
		}
		switch {
		case err == nil:
			if oversized {
				logger.Warn("Dropping oversized stdio frame", "limit_bytes", maxLineBytes)
				return nil, nil
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			if oversized {
				return nil, err
			}
			return line, err
		}
	}
}

func (c *Conn) WriteFrame(frame shared.Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(frame)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}

// Server serves one page on the process's stdin/stdout.
type Server struct {
	hub *shared.Hub
}

func NewServer(hub *shared.Hub) *Server {
	return &Server{hub: hub}
}

// Start serves stdin/stdout until the peer closes stdin or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	logger.Debug("Stdio page transport started")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve runs a page over r and w. End of input ends the page.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var closer io.Closer
	if rc, ok := r.(io.Closer); ok {
		closer = rc
	}
	err := s.hub.Serve(ctx, TransportName, NewConn(r, w, closer))
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		logger.Debug("Stdio EOF received, page transport finished")
		return nil
	}
	return err
}
