package bitvector

import (
	"github.com/pkg/errors"
)

var (
	ErrAllocation  = errors.New("bit vector allocation failed")
	ErrShortBuffer = errors.New("serialized bit vector is too short")
	ErrOutOfRange  = errors.New("bit index out of range")
)
