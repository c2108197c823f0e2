package daemon

import (
	"github.com/pkg/errors"
)

var (
	ErrExit            = errors.New("exit requested")
	ErrNoFactory       = errors.New("no stack walker factory configured")
	ErrVersionMismatch = errors.New("version mismatch")
)
