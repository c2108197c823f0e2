package daemon

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/maxgio92/xstat/pkg/graph"
	"github.com/maxgio92/xstat/pkg/protocol"
	"github.com/maxgio92/xstat/pkg/sampler"
)

func ok(req *protocol.Packet) *protocol.Packet {
	return protocol.Ack(req.Tag, protocol.StatusOK)
}

// attach reads the output directory and file prefix, empty to keep the
// configured ones, and attaches to every process of the table.
func (d *Daemon) attach(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	dir, err := req.Text(0)
	if err != nil {
		return nil, err
	}
	prefix, err := req.Text(1)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		d.outputDir = dir
	}
	if prefix != "" {
		d.filePrefix = prefix
	}

	if d.factory == nil {
		return nil, ErrNoFactory
	}
	if err := d.controller.Attach(d.factory); err != nil {
		return nil, err
	}
	d.logger.Info().Int("processes", d.controller.Table().Live()).Msg("attached")

	return ok(req), nil
}

func (d *Daemon) pause(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	if !d.controller.Attached() {
		return nil, sampler.ErrNotAttached
	}
	d.controller.Pause()

	return ok(req), nil
}

func (d *Daemon) resume(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	if !d.controller.Attached() {
		return nil, sampler.ErrNotAttached
	}
	d.controller.Resume()

	return ok(req), nil
}

// sampleTraces reads nTraces, traceIntervalMs, nRetries, retryIntervalUs,
// flags, threadWidth and the variable spec.
func (d *Daemon) sampleTraces(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	var nums [6]uint32
	for i := range nums {
		v, err := req.Uint32(i)
		if err != nil {
			return nil, err
		}
		nums[i] = v
	}
	spec, err := req.Text(6)
	if err != nil {
		return nil, err
	}

	r := sampler.Request{
		NTraces:       int(nums[0]),
		TraceInterval: time.Duration(nums[1]) * time.Millisecond,
		NRetries:      int(nums[2]),
		RetryInterval: time.Duration(nums[3]) * time.Microsecond,
		Flags:         sampler.Flags(nums[4]),
		ThreadWidth:   int(nums[5]),
		VariableSpec:  spec,
	}
	start := time.Now()
	if err := d.controller.Run(ctx, r); err != nil {
		if errors.Is(err, sampler.ErrVariableSpec) {
			return nil, errors.Wrap(protocol.ErrProtocol, err.Error())
		}
		return nil, err
	}
	d.logger.Debug().
		Int("traces", r.NTraces).
		Stringer("mode", r.Flags).
		Dur("elapsed", time.Since(start)).
		Msg("sampled")

	return ok(req), nil
}

func (d *Daemon) payload(req *protocol.Packet, data []byte) *protocol.Packet {
	return protocol.Payload(req.Tag, data,
		int32(d.controller.Table().Len()),
		d.rank,
		uint32(d.controller.Flags()),
	)
}

func (d *Daemon) sendLastTrace(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	return d.payload(req, d.controller.Snapshot().Encode()), nil
}

func (d *Daemon) sendTraces(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	return d.payload(req, d.controller.Session().Encode()), nil
}

func (d *Daemon) sendNodeInEdge(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	id, err := req.Int32(0)
	if err != nil {
		return nil, err
	}
	return d.payload(req, d.controller.Session().InEdgeBytes(graph.NodeID(id))), nil
}

// detach reads the ranks to leave stopped, little endian uint32s.
func (d *Daemon) detach(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	raw, err := req.Bytes(0)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, errors.Wrapf(protocol.ErrProtocol, "stop list of %d bytes", len(raw))
	}
	stop := make([]uint32, 0, len(raw)/4)
	for i := 0; i < len(raw); i += 4 {
		stop = append(stop, binary.LittleEndian.Uint32(raw[i:]))
	}

	d.flush()
	if err := d.controller.Detach(stop); err != nil {
		d.logger.Warn().Err(err).Msg("failed to detach some processes")
	}
	d.logger.Info().Int("stopped", len(stop)).Msg("detached")

	return ok(req), nil
}

func (d *Daemon) terminate(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	d.flush()
	if err := d.controller.Terminate(); err != nil {
		d.logger.Warn().Err(err).Msg("failed to terminate some processes")
	}
	d.logger.Info().Msg("terminated")

	return ok(req), nil
}

// checkVersion compares the parent version with the build one. A mismatch
// is reported in the reply and leaves the daemon serving.
func (d *Daemon) checkVersion(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	var parent [3]int32
	for i := range parent {
		v, err := req.Int32(i)
		if err != nil {
			return nil, err
		}
		parent[i] = v
	}

	v := d.version
	status := protocol.StatusOK
	if parent != [3]int32{v.Major, v.Minor, v.Revision} {
		status = protocol.StatusVersionMismatch
		d.logger.Warn().
			Err(ErrVersionMismatch).
			Str("daemon", v.String()).
			Ints32("parent", parent[:]).
			Msg("parent version differs")
	}

	return protocol.MustNew(req.Tag.Reply(), protocol.VersionReplyFormat,
		v.Major, v.Minor, v.Revision, int32(status), int32(0)), nil
}

func (d *Daemon) exit(_ context.Context, _ *protocol.Packet) (*protocol.Packet, error) {
	return nil, ErrExit
}
