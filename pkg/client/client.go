// Package client implements the parent side of the daemon protocol.
package client

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/xstat/internal/version"
	"github.com/maxgio92/xstat/pkg/graph"
	"github.com/maxgio92/xstat/pkg/protocol"
	"github.com/maxgio92/xstat/pkg/sampler"
)

// Payload is a graph or edge exported by a daemon.
type Payload struct {
	Data  []byte
	Width int
	Rank  int
	Flags sampler.Flags
}

// Graph decodes a graph payload.
func (p *Payload) Graph() (*graph.Graph, error) {
	return graph.Decode(p.Data)
}

type Client struct {
	conn net.Conn
	c    *protocol.Conn

	logger log.Logger
}

type Option func(*Client)

func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to the daemon listening on addr.
func Dial(ctx context.Context, network, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", addr)
	}
	return New(conn, opts...), nil
}

func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		c:      protocol.NewConn(conn),
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "client").Logger()

	return c
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends req and reads its reply, giving up when ctx is done.
func (c *Client) call(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := c.c.Write(req); err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	reply, err := c.c.Read()
	if err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	if reply.Tag != req.Tag.Reply() {
		return nil, errors.Wrapf(ErrUnexpectedReply, "%s to %s", reply.Tag, req.Tag)
	}
	c.logger.Debug().Stringer("tag", req.Tag).Msg("reply received")

	return reply, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// The connection deadline may fire before the context one.
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

func (c *Client) ack(ctx context.Context, req *protocol.Packet) error {
	reply, err := c.call(ctx, req)
	if err != nil {
		return err
	}
	if reply.Format != protocol.AckFormat {
		return errors.Wrapf(ErrUnexpectedReply, "%s format %q", reply.Tag, reply.Format)
	}
	status, err := reply.Status()
	if err != nil {
		return err
	}
	if status != protocol.StatusOK {
		return errors.Wrapf(ErrRequestFailed, "%s: %s", req.Tag, status)
	}
	return nil
}

func (c *Client) payload(ctx context.Context, req *protocol.Packet) (*Payload, error) {
	reply, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if reply.Format == protocol.AckFormat {
		return nil, errors.Wrapf(ErrRequestFailed, "%s", req.Tag)
	}
	if reply.Format != protocol.PayloadFormat {
		return nil, errors.Wrapf(ErrUnexpectedReply, "%s format %q", reply.Tag, reply.Format)
	}

	data, err := reply.Bytes(0)
	if err != nil {
		return nil, err
	}
	var nums [3]int32
	for i := range nums {
		if nums[i], err = reply.Int32(i + 2); err != nil {
			return nil, err
		}
	}
	flags, err := reply.Uint32(4)
	if err != nil {
		return nil, err
	}

	return &Payload{
		Data:  data,
		Width: int(nums[0]),
		Rank:  int(nums[1]),
		Flags: sampler.Flags(flags),
	}, nil
}

// CheckVersion sends v and returns the daemon version. A differing daemon
// returns its version along with ErrVersionMismatch.
func (c *Client) CheckVersion(ctx context.Context, v version.Version) (version.Version, error) {
	reply, err := c.call(ctx, protocol.MustNew(protocol.TagCheckVersion, "%d %d %d", v.Major, v.Minor, v.Revision))
	if err != nil {
		return version.Version{}, err
	}

	var nums [4]int32
	for i := range nums {
		if nums[i], err = reply.Int32(i); err != nil {
			return version.Version{}, err
		}
	}
	daemon := version.Version{Major: nums[0], Minor: nums[1], Revision: nums[2]}
	switch protocol.Status(nums[3]) {
	case protocol.StatusOK:
		return daemon, nil
	case protocol.StatusVersionMismatch:
		return daemon, errors.Wrapf(ErrVersionMismatch, "daemon %s, client %s", daemon, v)
	}
	return daemon, errors.Wrapf(ErrRequestFailed, "%s", protocol.TagCheckVersion)
}

// Attach attaches the daemon to its processes. Empty arguments keep the
// daemon output settings.
func (c *Client) Attach(ctx context.Context, outputDir, prefix string) error {
	return c.ack(ctx, protocol.MustNew(protocol.TagAttach, "%s %s", outputDir, prefix))
}

func (c *Client) Pause(ctx context.Context) error {
	return c.ack(ctx, protocol.MustNew(protocol.TagPause, ""))
}

func (c *Client) Resume(ctx context.Context) error {
	return c.ack(ctx, protocol.MustNew(protocol.TagResume, ""))
}

// Sample runs req on the daemon. It returns once every round is done.
func (c *Client) Sample(ctx context.Context, req sampler.Request) error {
	spec := req.VariableSpec
	if spec == "" {
		spec = "NULL"
	}
	return c.ack(ctx, protocol.MustNew(protocol.TagSampleTraces, "%ud %ud %ud %ud %ud %ud %s",
		uint32(req.NTraces),
		uint32(req.TraceInterval/time.Millisecond),
		uint32(req.NRetries),
		uint32(req.RetryInterval/time.Microsecond),
		uint32(req.Flags),
		uint32(req.ThreadWidth),
		spec,
	))
}

// SendLastTrace fetches the graph of the last sampling round.
func (c *Client) SendLastTrace(ctx context.Context) (*Payload, error) {
	return c.payload(ctx, protocol.MustNew(protocol.TagSendLastTrace, ""))
}

// SendTraces fetches the session graph.
func (c *Client) SendTraces(ctx context.Context) (*Payload, error) {
	return c.payload(ctx, protocol.MustNew(protocol.TagSendTraces, ""))
}

// SendNodeInEdge fetches the process vector of the edge ending at id.
func (c *Client) SendNodeInEdge(ctx context.Context, id graph.NodeID) (*Payload, error) {
	return c.payload(ctx, protocol.MustNew(protocol.TagSendNodeInEdge, "%d", int32(id)))
}

// Detach releases the processes, leaving the ranks in stop stopped.
func (c *Client) Detach(ctx context.Context, stop []uint32) error {
	raw := make([]byte, 0, 4*len(stop))
	for _, r := range stop {
		raw = binary.LittleEndian.AppendUint32(raw, r)
	}
	return c.ack(ctx, protocol.MustNew(protocol.TagDetach, "%auc", raw))
}

func (c *Client) Terminate(ctx context.Context) error {
	return c.ack(ctx, protocol.MustNew(protocol.TagTerminate, ""))
}

// Exit asks the daemon to stop. No reply is expected.
func (c *Client) Exit(ctx context.Context) error {
	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	return c.ctxErr(ctx, c.c.Write(protocol.MustNew(protocol.TagExit, "")))
}
