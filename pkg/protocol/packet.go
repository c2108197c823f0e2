// Package protocol implements the tagged, positionally typed packets
// exchanged between a daemon and its parent.
//
// A packet is a tag, a format string listing one type code per argument,
// and the arguments:
//
//	%d   int32
//	%ud  uint32
//	%s   string
//	%ac  []byte
//	%auc []byte
//	%aud []uint32
package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Code string

const (
	CodeInt32   Code = "%d"
	CodeUint32  Code = "%ud"
	CodeString  Code = "%s"
	CodeBytes   Code = "%ac"
	CodeUBytes  Code = "%auc"
	CodeUint32s Code = "%aud"
)

// Formats of the replies.
const (
	AckFormat          = "%d"
	PayloadFormat      = "%auc %d %d %d %ud"
	VersionReplyFormat = "%d %d %d %d %d"
)

type Packet struct {
	Tag    Tag
	Format string
	Args   []any
}

// ParseFormat splits a format string into its type codes.
func ParseFormat(format string) ([]Code, error) {
	fields := strings.Fields(format)
	codes := make([]Code, len(fields))
	for i, f := range fields {
		switch c := Code(f); c {
		case CodeInt32, CodeUint32, CodeString, CodeBytes, CodeUBytes, CodeUint32s:
			codes[i] = c
		default:
			return nil, errors.Wrapf(ErrProtocol, "unknown type code %q", f)
		}
	}
	return codes, nil
}

// New builds a packet, checking the arguments against format.
func New(tag Tag, format string, args ...any) (*Packet, error) {
	codes, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if len(codes) != len(args) {
		return nil, errors.Wrapf(ErrProtocol, "format %q wants %d arguments, got %d", format, len(codes), len(args))
	}
	for i, c := range codes {
		if !matches(c, args[i]) {
			return nil, errors.Wrapf(ErrProtocol, "argument %d: %T does not match %s", i, args[i], c)
		}
	}

	return &Packet{Tag: tag, Format: format, Args: args}, nil
}

// MustNew is New for packets built from constants.
func MustNew(tag Tag, format string, args ...any) *Packet {
	p, err := New(tag, format, args...)
	if err != nil {
		panic(err)
	}
	return p
}

func matches(c Code, arg any) bool {
	switch arg.(type) {
	case int32:
		return c == CodeInt32
	case uint32:
		return c == CodeUint32
	case string:
		return c == CodeString
	case []byte:
		return c == CodeBytes || c == CodeUBytes
	case []uint32:
		return c == CodeUint32s
	}
	return false
}

// Ack is the reply to req carrying status.
func Ack(req Tag, status Status) *Packet {
	return &Packet{Tag: req.Reply(), Format: AckFormat, Args: []any{int32(status)}}
}

// Payload is the reply to req carrying a serialized graph or edge.
func Payload(req Tag, data []byte, width, rank int32, flags uint32) *Packet {
	return &Packet{
		Tag:    req.Reply(),
		Format: PayloadFormat,
		Args:   []any{data, int32(len(data)), width, rank, flags},
	}
}

func (p *Packet) arg(i int) (any, error) {
	if i < 0 || i >= len(p.Args) {
		return nil, errors.Wrapf(ErrProtocol, "%s: no argument %d", p.Tag, i)
	}
	return p.Args[i], nil
}

func (p *Packet) Int32(i int) (int32, error) {
	a, err := p.arg(i)
	if err != nil {
		return 0, err
	}
	v, ok := a.(int32)
	if !ok {
		return 0, typeError(p, i, a, CodeInt32)
	}
	return v, nil
}

func (p *Packet) Uint32(i int) (uint32, error) {
	a, err := p.arg(i)
	if err != nil {
		return 0, err
	}
	v, ok := a.(uint32)
	if !ok {
		return 0, typeError(p, i, a, CodeUint32)
	}
	return v, nil
}

// Text reads a %s argument.
func (p *Packet) Text(i int) (string, error) {
	a, err := p.arg(i)
	if err != nil {
		return "", err
	}
	v, ok := a.(string)
	if !ok {
		return "", typeError(p, i, a, CodeString)
	}
	return v, nil
}

func (p *Packet) Bytes(i int) ([]byte, error) {
	a, err := p.arg(i)
	if err != nil {
		return nil, err
	}
	v, ok := a.([]byte)
	if !ok {
		return nil, typeError(p, i, a, CodeBytes)
	}
	return v, nil
}

func (p *Packet) Uint32s(i int) ([]uint32, error) {
	a, err := p.arg(i)
	if err != nil {
		return nil, err
	}
	v, ok := a.([]uint32)
	if !ok {
		return nil, typeError(p, i, a, CodeUint32s)
	}
	return v, nil
}

// Status reads the status of an ack.
func (p *Packet) Status() (Status, error) {
	v, err := p.Int32(0)
	return Status(v), err
}

func typeError(p *Packet, i int, a any, want Code) error {
	return errors.Wrapf(ErrProtocol, "%s: argument %d is %T, not %s", p.Tag, i, a, want)
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s(%s)", p.Tag, p.Format)
}
