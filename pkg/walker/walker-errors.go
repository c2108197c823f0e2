package walker

import (
	"github.com/pkg/errors"
)

var (
	ErrStackWalk   = errors.New("stack walk failed")
	ErrNotPaused   = errors.New("process is not paused")
	ErrProcessGone = errors.New("process is gone")
	ErrUnsupported = errors.New("stack walking is not supported on this platform")
)
