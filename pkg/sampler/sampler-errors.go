package sampler

import (
	"github.com/pkg/errors"
)

var (
	ErrVariableSpec = errors.New("malformed variable spec")
	ErrNoProcesses  = errors.New("no process could be attached")
	ErrNotAttached  = errors.New("processes are not attached")
)
