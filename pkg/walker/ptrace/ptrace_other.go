//go:build !(linux && amd64)

package ptrace

import (
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/xstat/pkg/proctable"
	"github.com/maxgio92/xstat/pkg/walker"
)

type Factory struct {
	*Options
}

func NewFactory(opts ...Option) *Factory {
	f := &Factory{Options: &Options{maxDepth: DefaultMaxDepth, logger: log.Nop()}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Attach(slot *proctable.Slot) (walker.Walker, error) {
	return nil, errors.Wrapf(walker.ErrUnsupported, "pid %d", slot.Pid)
}
