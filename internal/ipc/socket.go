package ipc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxConnections is the default number of socket connections handled
// at once.
const DefaultMaxConnections = 64

// rejectWriteTimeout bounds the write of the busy response to a refused
// connection.
const rejectWriteTimeout = 100 * time.Millisecond

// ConnRecorder counts refused connections.
type ConnRecorder interface {
	ConnectionRejected(transport string)
}

// SocketConfig configures a SocketServer.
type SocketConfig struct {
	// MaxConnections bounds concurrently handled connections. Connections
	// beyond it receive MsgBusy and are closed.
	MaxConnections int
	// ReadTimeout bounds reading one request. Zero means no limit.
	ReadTimeout time.Duration
}

// SocketServer serves one newline-delimited JSON exchange per connection.
type SocketServer struct {
	dispatcher  *Dispatcher
	log         *zap.Logger
	metrics     ConnRecorder
	sem         *semaphore.Weighted
	readTimeout time.Duration
	rejectLog   rate.Sometimes

	mu       sync.Mutex
	ln       net.Listener
	cleanup  func()
	closing  atomic.Bool
	handlers sync.WaitGroup
}

// NewSocketServer returns a server dispatching through d.
func NewSocketServer(d *Dispatcher, cfg SocketConfig, log *zap.Logger, metrics ConnRecorder) *SocketServer {
	if log == nil {
		log = zap.NewNop()
	}
	limit := cfg.MaxConnections
	if limit <= 0 {
		limit = DefaultMaxConnections
	}
	return &SocketServer{
		dispatcher:  d.For(TransportSocket),
		log:         log.With(zap.String("transport", TransportSocket)),
		metrics:     metrics,
		sem:         semaphore.NewWeighted(int64(limit)),
		readTimeout: cfg.ReadTimeout,
		rejectLog:   rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// ListenAndServe listens on the platform endpoint addr (a socket path or a
// pipe name) and serves until Shutdown.
func (s *SocketServer) ListenAndServe(addr string) error {
	ln, cleanup, err := Listen(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cleanup = cleanup
	s.mu.Unlock()

	s.log.Info("socket transport listening", zap.String("addr", addr))
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called. It returns nil
// after a shutdown and the accept error otherwise.
func (s *SocketServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		cleanup := s.cleanup
		s.mu.Unlock()
		ln.Close()
		if cleanup != nil {
			cleanup()
		}
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(backoff*2, 5*time.Millisecond), time.Second)
				s.log.Warn("accept failed; retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if !s.sem.TryAcquire(1) {
			s.reject(conn)
			continue
		}

		s.mu.Lock()
		if s.closing.Load() {
			s.mu.Unlock()
			s.sem.Release(1)
			conn.Close()
			return nil
		}
		s.handlers.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.handlers.Done()
			defer s.sem.Release(1)
			s.handleConn(conn)
		}()
	}
}

func (s *SocketServer) reject(conn net.Conn) {
	defer conn.Close()
	if s.metrics != nil {
		s.metrics.ConnectionRejected(TransportSocket)
	}
	s.rejectLog.Do(func() {
		s.log.Warn("connection limit reached; refusing connections")
	})
	_ = conn.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	_, _ = conn.Write(append(MarshalResponse(ErrorResponse(MsgBusy)), '\n'))
}

// handleConn reads one request line, dispatches it and writes one response
// line. The vault is only touched between the read and the write.
func (s *SocketServer) handleConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.With(zap.String("conn", uuid.NewString()))

	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}

	line, err := readLine(conn)
	var resp Response
	switch {
	case errors.Is(err, ErrFrameTooLarge):
		resp = ErrorResponse(MsgTooLarge)
	case err != nil:
		log.Debug("failed to read request", zap.Error(err))
		return
	default:
		resp = s.dispatcher.HandlePayload(context.Background(), line)
	}

	_ = conn.SetReadDeadline(time.Time{})
	if _, err := conn.Write(append(MarshalResponse(resp), '\n')); err != nil {
		log.Debug("failed to write response", zap.Error(err))
	}
}

// readLine reads up to and excluding the first newline. A final line without
// a newline is accepted if it is not empty. MaxFrameSize applies to the line
// without its newline.
func readLine(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(io.LimitReader(r, MaxFrameSize+1))
	line, err := br.ReadBytes('\n')
	if len(bytes.TrimSuffix(line, []byte{'\n'})) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
			return bytes.TrimSpace(line), nil
		}
		return nil, err
	}
	return bytes.TrimSpace(line), nil
}

// Shutdown stops accepting connections, removes the socket file and waits
// for in-flight handlers until ctx is done. Handlers blocked on a client are
// not interrupted.
func (s *SocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	ln, cleanup := s.ln, s.cleanup
	s.ln, s.cleanup = nil, nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if cleanup != nil {
		cleanup()
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
