package client

import (
	"github.com/pkg/errors"
)

var (
	ErrRequestFailed   = errors.New("request failed")
	ErrVersionMismatch = errors.New("daemon version mismatch")
	ErrUnexpectedReply = errors.New("unexpected reply")
)
