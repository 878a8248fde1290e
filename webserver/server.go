// Package webserver serves the bundled web build to the page over loopback
// HTTP/1.1. Every response closes its connection.
package webserver

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/slighter12/isocity-host-go/lifecycle"
	"github.com/slighter12/isocity-host-go/logger"
)

const (
	readChunkSize   = 16 * 1024
	maxRequestBytes = 256 * 1024
)

var headerTerminator = []byte("\r\n\r\n")

// Server is the static file server. The served root is read-only for the
// server's lifetime; connections share nothing else.
type Server struct {
	host string
	port int
	root string
	log  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	addr     string
	status   lifecycle.ServerStatus
	onStatus func(lifecycle.ServerStatus)
	live     map[net.Conn]struct{}
	conns    sync.WaitGroup
}

// New creates a stopped server for root. Port 0 picks a free port.
func New(host string, port int, root string) *Server {
	return &Server{
		host:   host,
		port:   port,
		root:   root,
		log:    logger.With("component", "webserver"),
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		status: lifecycle.Stopped(),
		live:   make(map[net.Conn]struct{}),
	}
}

// OnStatus registers the status callback. It must not block.
func (s *Server) OnStatus(fn func(lifecycle.ServerStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

func (s *Server) Status() lifecycle.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// BaseURL is the origin the page is loaded from.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "http://" + s.addr
}

// StartIfNeeded binds the listener unless the server is already starting or
// running. A bind failure leaves the server Failed until the next call.
func (s *Server) StartIfNeeded() {
	s.mu.Lock()
	switch s.status.Phase {
	case lifecycle.ServerRunning, lifecycle.ServerStarting:
		s.mu.Unlock()
		return
	}
	s.status = lifecycle.Starting()
	notify := s.onStatus
	s.mu.Unlock()
	emit(notify, lifecycle.Starting())

	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		s.log.Error("Static server failed to listen", "error", err)
		s.setStatus(lifecycle.Failed(err.Error()))
		return
	}

	s.mu.Lock()
	s.listener = listener
	s.addr = listener.Addr().String()
	s.mu.Unlock()
	s.log.Info("Static server listening", "addr", listener.Addr().String(), "root", s.root)
	s.setStatus(lifecycle.Running())

	go s.acceptLoop(listener)
}

// Stop closes the listener and every open connection, then waits for their
// handlers to return.
func (s *Server) Stop() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener == nil {
		return
	}
	listener.Close()
	s.setStatus(lifecycle.Stopped())

	s.mu.Lock()
	for conn := range s.live {
		conn.Close()
	}
	s.mu.Unlock()
	s.conns.Wait()
}

// track registers conn as open. It refuses conns accepted by a listener that
// has since been stopped.
func (s *Server) track(listener net.Listener, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != listener {
		return false
	}
	s.live[conn] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.live, conn)
	s.mu.Unlock()
	s.conns.Done()
}

// setStatus records status and reports it. Callbacks run on the caller's
// goroutine, outside the lock, in transition order.
func (s *Server) setStatus(status lifecycle.ServerStatus) {
	s.mu.Lock()
	s.status = status
	notify := s.onStatus
	s.mu.Unlock()
	emit(notify, status)
}

func emit(fn func(lifecycle.ServerStatus), status lifecycle.ServerStatus) {
	if fn != nil {
		fn(status)
	}
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			current := s.listener == listener
			if current {
				s.listener = nil
			}
			s.mu.Unlock()
			if current {
				// Not closed by Stop: the listener died under us.
				listener.Close()
				s.log.Error("Static server accept failed", "error", err)
				s.setStatus(lifecycle.Failed(err.Error()))
			}
			return
		}
		if !s.track(listener, conn) {
			conn.Close()
			return
		}
		go func() {
			defer s.untrack(conn)
			s.serve(conn)
		}()
	}
}

// serve reads one request head in 16 KiB chunks, answers it and closes.
// A peer that closes its side before the header terminator still gets an
// answer for whatever it sent.
func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	chunk := make([]byte, readChunkSize)
	var buf []byte
	for {
		n, err := conn.Read(chunk)
		if errors.Is(err, net.ErrClosed) {
			return
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) > maxRequestBytes {
			s.write(conn, simple(413, "Request too large."))
			return
		}
		if bytes.Contains(buf, headerTerminator) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.write(conn, simple(500, "Server error: "+err.Error()))
			return
		}
	}

	s.write(conn, s.handle(buf))
}

func (s *Server) write(conn net.Conn, resp response) {
	if _, err := resp.writeTo(conn); err != nil {
		s.log.Debug("Static response write failed", "status", resp.status, "error", err)
	}
}
