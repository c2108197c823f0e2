package protocol

import (
	"github.com/pkg/errors"
)

var (
	ErrProtocol      = errors.New("malformed packet")
	ErrFrameTooLarge = errors.New("frame too large")
)
