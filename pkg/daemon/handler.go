package daemon

import (
	"context"

	"github.com/maxgio92/xstat/pkg/protocol"
)

// Handler serves one request tag. A nil reply sends nothing; an error is
// answered with a failure ack.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error)
}

type HandlerFunc func(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error)

func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	return f(ctx, req)
}

// registry maps every request tag to its handler.
func (d *Daemon) registry() map[protocol.Tag]Handler {
	return map[protocol.Tag]Handler{
		protocol.TagAttach:         HandlerFunc(d.attach),
		protocol.TagPause:          HandlerFunc(d.pause),
		protocol.TagResume:         HandlerFunc(d.resume),
		protocol.TagSampleTraces:   HandlerFunc(d.sampleTraces),
		protocol.TagSendLastTrace:  HandlerFunc(d.sendLastTrace),
		protocol.TagSendTraces:     HandlerFunc(d.sendTraces),
		protocol.TagSendNodeInEdge: HandlerFunc(d.sendNodeInEdge),
		protocol.TagDetach:         HandlerFunc(d.detach),
		protocol.TagTerminate:      HandlerFunc(d.terminate),
		protocol.TagCheckVersion:   HandlerFunc(d.checkVersion),
		protocol.TagExit:           HandlerFunc(d.exit),
	}
}

// ignore answers unknown tags with nothing.
func (d *Daemon) ignore(_ context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	d.logger.Warn().Stringer("tag", req.Tag).Msg("ignoring unknown request")
	return nil, nil
}
