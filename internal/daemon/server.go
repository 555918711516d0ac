package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Handler executes one request's argument vector and returns its combined
// output. The server serializes calls: at most one handler runs at a time,
// so handlers may share the snapshot without locking.
type Handler func(ctx context.Context, args []string) (string, error)

// Server owns the unix socket and the accept loop.
type Server struct {
	path    string
	handler Handler

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer binds the unix socket at path. A stale socket file from a
// previous run is removed first; an actively listening one makes the bind
// fail.
func NewServer(path string, handler Handler) (*Server, error) {
	if _, err := os.Stat(path); err == nil {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("socket %s is already in use", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return &Server{path: path, handler: handler, listener: l}, nil
}

// Path returns the socket path the server is listening on.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until an exit request arrives, Close is called,
// or ctx is canceled. Requests are handled one at a time, in arrival order.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		exit := s.handleConn(ctx, conn)
		conn.Close()
		if exit {
			s.Close()
			return nil
		}
	}
}

// Close shuts the listener down and removes the socket file. Safe to call
// more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

// handleConn reads requests off one connection until it drains, reporting
// whether an exit request was seen. A malformed or failed request answers
// with an error response and keeps the server alive.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) (exit bool) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(Response{Error: "malformed request: " + err.Error()})
			continue
		}

		switch req.Method {
		case MethodExit:
			slog.Info("exit requested")
			enc.Encode(Response{})
			return true
		case MethodRun:
			result, err := s.handler(ctx, req.Args)
			resp := Response{Result: result}
			if err != nil {
				resp.Error = err.Error()
				slog.Warn("request failed", "args", req.Args, "error", err)
			}
			if err := enc.Encode(resp); err != nil {
				slog.Warn("write response", "error", err)
				return false
			}
		default:
			enc.Encode(Response{Error: fmt.Sprintf("unknown method %q", req.Method)})
		}
	}
	return false
}
