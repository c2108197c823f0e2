package graph

import (
	"github.com/pkg/errors"
)

var (
	ErrAllocation = errors.New("graph allocation failed")
	ErrMerge      = errors.New("graph merge failed")
	ErrDecode     = errors.New("malformed serialized graph")
)
