package proctable

import (
	"github.com/pkg/errors"
)

var (
	ErrEmpty          = errors.New("process table is empty")
	ErrDuplicatePid   = errors.New("duplicate process id")
	ErrRankMismatch   = errors.New("rank list length does not match process list length")
	ErrInvalidPid     = errors.New("invalid process id")
	ErrSlotOutOfRange = errors.New("slot out of range")
)
