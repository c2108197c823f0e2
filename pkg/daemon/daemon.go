// Package daemon serves the requests of a parent node: it attaches to the
// local processes, samples their stack traces and hands the resulting call
// path graphs back, one reply per request.
package daemon

import (
	"context"
	"io"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/maxgio92/xstat/pkg/metrics"
	"github.com/maxgio92/xstat/pkg/protocol"
	"github.com/maxgio92/xstat/pkg/sampler"
)

type State int32

const (
	StateListening State = iota
	StateConnected
	StateServingRequests
	StateExited
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateServingRequests:
		return "serving"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

type Daemon struct {
	controller *sampler.Controller
	handlers   map[protocol.Tag]Handler
	fallback   Handler

	state    atomic.Int32
	shutdown sync.Once

	*Options
}

func New(controller *sampler.Controller, opts ...Option) *Daemon {
	d := &Daemon{
		controller: controller,
		Options:    defaultOptions(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.Discard()
	}
	d.logger = d.logger.With().Str("component", "daemon").Int32("rank", d.rank).Logger()
	d.handlers = d.registry()
	d.fallback = HandlerFunc(d.ignore)

	return d
}

func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
}

// Serve accepts parents on ln one at a time until an EXIT request or ctx is
// done. The calling goroutine is locked to its OS thread, as stack walkers
// may require every call to come from the thread that attached.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer d.Shutdown()
	defer d.setState(StateExited)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	d.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	d.ready()

	for {
		d.setState(StateListening)
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "error accepting connection")
		}

		exit, err := d.ServeConn(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			d.logger.Warn().Err(err).Msg("connection dropped")
		}
		if exit {
			return nil
		}
	}
}

// ServeConn serves the requests of one parent. It returns true when the
// parent asked the daemon to exit, false when the parent disconnected.
func (d *Daemon) ServeConn(ctx context.Context, conn net.Conn) (bool, error) {
	d.setState(StateConnected)
	logger := d.logger.With().Str("parent", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("parent connected")

	if d.pollInterval == 0 {
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
	}

	c := protocol.NewConn(conn)
	for {
		req, err := d.receive(ctx, conn, c)
		switch {
		case errors.Is(err, io.EOF):
			logger.Debug().Msg("parent disconnected")
			return false, nil
		case err != nil && req != nil:
			logger.Warn().Err(err).Stringer("tag", req.Tag).Msg("malformed request")
			d.count(req.Tag, "malformed")
			// Unknown tags are never answered.
			if _, known := d.handlers[req.Tag]; !known {
				continue
			}
			if err := c.Write(d.failure(req.Tag)); err != nil {
				return false, err
			}
			continue
		case err != nil:
			return false, err
		}

		d.setState(StateServingRequests)
		reply, exit := d.dispatch(ctx, req)
		if reply != nil {
			if err := c.Write(reply); err != nil {
				return false, err
			}
		}
		if exit {
			logger.Info().Msg("exit requested")
			return true, nil
		}
	}
}

// receive reads the next request. In polling mode it waits for the first
// byte of a frame under a read deadline, checking ctx between deadlines.
func (d *Daemon) receive(ctx context.Context, conn net.Conn, c *protocol.Conn) (*protocol.Packet, error) {
	if d.pollInterval > 0 {
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			conn.SetReadDeadline(time.Now().Add(d.pollInterval))
			err := c.Wait()
			if err == nil {
				break
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		conn.SetReadDeadline(time.Time{})
	}

	return c.Read()
}

// dispatch runs the handler of req and returns the reply to send, if any.
func (d *Daemon) dispatch(ctx context.Context, req *protocol.Packet) (*protocol.Packet, bool) {
	h, ok := d.handlers[req.Tag]
	if !ok {
		h = d.fallback
	}

	logger := d.logger.With().Stringer("tag", req.Tag).Logger()
	logger.Debug().Msg("handling request")

	reply, err := h.Handle(ctx, req)
	switch {
	case errors.Is(err, ErrExit):
		d.count(req.Tag, "ok")
		return nil, true
	case err != nil:
		logger.Error().Err(err).Msg("request failed")
		reply = d.failure(req.Tag)
	}
	d.count(req.Tag, replyStatus(reply))

	return reply, false
}

// failure is the failed reply to tag. CHECK_VERSION keeps its reply shape.
func (d *Daemon) failure(tag protocol.Tag) *protocol.Packet {
	if tag == protocol.TagCheckVersion {
		v := d.version
		return protocol.MustNew(tag.Reply(), protocol.VersionReplyFormat,
			v.Major, v.Minor, v.Revision, int32(protocol.StatusFailure), int32(0))
	}
	return protocol.Ack(tag, protocol.StatusFailure)
}

func (d *Daemon) count(tag protocol.Tag, status string) {
	d.metrics.Requests.WithLabelValues(tag.String(), status).Inc()
}

func replyStatus(reply *protocol.Packet) string {
	if reply == nil {
		return "ignored"
	}
	var (
		s   protocol.Status
		err error
	)
	switch reply.Format {
	case protocol.AckFormat:
		s, err = reply.Status()
	case protocol.VersionReplyFormat:
		var v int32
		v, err = reply.Int32(3)
		s = protocol.Status(v)
	default:
		return protocol.StatusOK.String()
	}
	if err != nil {
		return "malformed"
	}
	return s.String()
}

// Shutdown writes the session files and releases every target. It runs at
// most once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		if !d.controller.Attached() {
			return
		}
		d.logger.Info().Msg("shutting down")
		d.flush()
		if err := d.controller.Detach(nil); err != nil {
			d.logger.Warn().Err(err).Msg("failed to detach some processes")
		}
	})
}
