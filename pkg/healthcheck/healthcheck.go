package healthcheck

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	log "github.com/rs/zerolog"
)

const ReadyMsg = 0x01

var ErrTimeout = errors.New("timeout waiting for readiness")

// Server answers ReadyMsg on a Unix socket once the daemon is ready.
type Server struct {
	ln         net.Listener
	readyCh    chan struct{}
	readyOnce  sync.Once
	socketPath string
	logger     log.Logger
}

// NewServer creates a readiness server bound to socketPath.
func NewServer(socketPath string, logger log.Logger) *Server {
	l := logger.With().Str("component", "healthcheck").Logger()
	return &Server{
		socketPath: socketPath,
		readyCh:    make(chan struct{}),
		logger:     l,
	}
}

// Listen starts the UDS listener and accepts connections until ctx is done
// or Close is called.
func (s *Server) Listen(ctx context.Context) error {
	// Remove a stale socket from a previous run.
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrap(err, "failed to listen on UDS")
	}
	s.ln = ln

	go s.accept(ctx)

	return nil
}

// NotifyReady marks the daemon as ready. Later calls are no-ops.
func (s *Server) NotifyReady() {
	s.readyOnce.Do(func() {
		s.logger.Debug().Msg("marking readiness")
		close(s.readyCh)
	})
}

// Close shuts down the listener and removes the socket.
func (s *Server) Close() error {
	if s.ln != nil {
		if err := s.ln.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("error closing listener")
		}
	}

	if err := os.Remove(s.socketPath); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug().Err(err).Msg("error removing socket")
			return err
		}
		s.logger.Debug().Msg("socket file already removed")
	}

	return nil
}

func (s *Server) accept(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("stopping accepting connections")
			return
		default:
			conn, err := s.ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn().Err(err).Msg("accept error")
				continue
			}

			go s.respond(ctx, conn)
		}
	}
}

// respond writes ReadyMsg to conn as soon as the daemon is ready.
func (s *Server) respond(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	select {
	case <-s.readyCh:
		if !s.isConnectionAlive(conn) {
			s.logger.Debug().Msg("connection is closed")
			return
		}
		if err := s.safeWrite(conn, []byte{ReadyMsg}); err != nil {
			if !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				s.logger.Debug().Err(err).Msg("failed to write")
			}
		}
	case <-ctx.Done():
		s.logger.Debug().Msg("context canceled before readiness")
	}
}

func (s *Server) isConnectionAlive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now())
	if _, err := conn.Read([]byte{}); err == io.EOF {
		s.logger.Debug().Err(err).Msg("connection is already closed")
		conn.Close()

		return false
	}

	conn.SetReadDeadline(time.Time{})
	return true
}

func (s *Server) safeWrite(conn net.Conn, data []byte) error {
	_, err := conn.Write(data)
	if err != nil {
		switch {
		case errors.Is(err, syscall.EPIPE):
			conn.Close()
			return errors.Wrap(err, "peer closed the connection")
		case errors.Is(err, syscall.ECONNRESET):
			conn.Close()
			return errors.Wrap(err, "peer reset the connection")
		default:
			return errors.Wrap(err, "failed to write")
		}
	}
	return nil
}

// Wait polls socketPath until the server answers ReadyMsg, timeout expires
// or ctx is done.
func Wait(ctx context.Context, socketPath string, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		ready, err := probe(socketPath, interval)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// probe reports whether the readiness socket answered. Errors are returned
// only when retrying cannot help.
func probe(socketPath string, interval time.Duration) (bool, error) {
	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "error checking socket")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return false, errors.Errorf("path exists but is not a Unix socket: %s", socketPath)
	}

	conn, err := net.DialTimeout("unix", socketPath, interval)
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return false, errors.Wrap(err, "failed connecting")
		}
		return false, nil
	}
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(interval))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return false, nil
	}

	return buf[0] == ReadyMsg, nil
}
