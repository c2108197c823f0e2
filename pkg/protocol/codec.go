package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize caps the body of a single frame.
const MaxFrameSize = 64 << 20

const (
	fieldTag    protowire.Number = 1
	fieldFormat protowire.Number = 2
	firstArg    protowire.Number = 3
)

// Marshal encodes the body of p.
func Marshal(p *Packet) ([]byte, error) {
	codes, err := ParseFormat(p.Format)
	if err != nil {
		return nil, err
	}
	if len(codes) != len(p.Args) {
		return nil, errors.Wrapf(ErrProtocol, "%s: format wants %d arguments, got %d", p.Tag, len(codes), len(p.Args))
	}

	var b []byte
	b = protowire.AppendTag(b, fieldTag, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(p.Tag)))
	b = protowire.AppendTag(b, fieldFormat, protowire.BytesType)
	b = protowire.AppendString(b, p.Format)

	for i, c := range codes {
		num := firstArg + protowire.Number(i)
		if !matches(c, p.Args[i]) {
			return nil, errors.Wrapf(ErrProtocol, "%s: argument %d: %T does not match %s", p.Tag, i, p.Args[i], c)
		}
		switch v := p.Args[i].(type) {
		case int32:
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
		case uint32:
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v))
		case string:
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendString(b, v)
		case []byte:
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendBytes(b, v)
		case []uint32:
			var packed []byte
			for _, u := range v {
				packed = protowire.AppendVarint(packed, uint64(u))
			}
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendBytes(b, packed)
		}
	}

	return b, nil
}

// Unmarshal decodes a packet body. Fields must follow the order Marshal
// writes them in. When only the arguments are malformed, the returned
// packet still carries the tag along with the error.
func Unmarshal(buf []byte) (*Packet, error) {
	p := new(Packet)

	v, err := consumeVarint(&buf, fieldTag)
	if err != nil {
		return nil, err
	}
	p.Tag = Tag(protowire.DecodeZigZag(v))

	format, err := consumeBytes(&buf, fieldFormat)
	if err != nil {
		return p, err
	}
	p.Format = string(format)

	codes, err := ParseFormat(p.Format)
	if err != nil {
		return p, err
	}
	p.Args = make([]any, len(codes))
	for i, c := range codes {
		num := firstArg + protowire.Number(i)
		switch c {
		case CodeInt32:
			v, err := consumeVarint(&buf, num)
			if err != nil {
				return p, err
			}
			p.Args[i] = int32(protowire.DecodeZigZag(v))
		case CodeUint32:
			v, err := consumeVarint(&buf, num)
			if err != nil {
				return p, err
			}
			p.Args[i] = uint32(v)
		case CodeString:
			raw, err := consumeBytes(&buf, num)
			if err != nil {
				return p, err
			}
			p.Args[i] = string(raw)
		case CodeBytes, CodeUBytes:
			raw, err := consumeBytes(&buf, num)
			if err != nil {
				return p, err
			}
			p.Args[i] = append([]byte{}, raw...)
		case CodeUint32s:
			raw, err := consumeBytes(&buf, num)
			if err != nil {
				return p, err
			}
			var values []uint32
			for len(raw) > 0 {
				v, n := protowire.ConsumeVarint(raw)
				if n < 0 {
					return p, errors.Wrapf(ErrProtocol, "argument %d: %v", i, protowire.ParseError(n))
				}
				values = append(values, uint32(v))
				raw = raw[n:]
			}
			p.Args[i] = values
		}
	}
	if len(buf) > 0 {
		return p, errors.Wrapf(ErrProtocol, "%s: %d trailing bytes", p.Tag, len(buf))
	}

	return p, nil
}

func consumeTag(buf *[]byte, want protowire.Number, typ protowire.Type) error {
	num, got, n := protowire.ConsumeTag(*buf)
	if n < 0 {
		return errors.Wrapf(ErrProtocol, "field %d: %v", want, protowire.ParseError(n))
	}
	if num != want || got != typ {
		return errors.Wrapf(ErrProtocol, "field %d of type %d, want field %d of type %d", num, got, want, typ)
	}
	*buf = (*buf)[n:]
	return nil
}

func consumeVarint(buf *[]byte, num protowire.Number) (uint64, error) {
	if err := consumeTag(buf, num, protowire.VarintType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(*buf)
	if n < 0 {
		return 0, errors.Wrapf(ErrProtocol, "field %d: %v", num, protowire.ParseError(n))
	}
	*buf = (*buf)[n:]
	return v, nil
}

func consumeBytes(buf *[]byte, num protowire.Number) ([]byte, error) {
	if err := consumeTag(buf, num, protowire.BytesType); err != nil {
		return nil, err
	}
	v, n := protowire.ConsumeBytes(*buf)
	if n < 0 {
		return nil, errors.Wrapf(ErrProtocol, "field %d: %v", num, protowire.ParseError(n))
	}
	*buf = (*buf)[n:]
	return v, nil
}

// Conn reads and writes length prefixed frames over a stream.
type Conn struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw}
}

// Wait blocks until the next frame starts arriving, without consuming it.
func (c *Conn) Wait() error {
	_, err := c.r.Peek(1)
	return err
}

// Read reads one packet. io.EOF is returned as is when the stream ends
// between frames.
func (c *Conn) Read() (*Packet, error) {
	size, err := binary.ReadUvarint(c.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, errors.Wrap(ErrProtocol, err.Error())
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrProtocol, ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, errors.Wrap(err, "error reading frame body")
	}

	return Unmarshal(body)
}

func (c *Conn) Write(p *Packet) error {
	body, err := Marshal(p)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %w: %d bytes", ErrProtocol, ErrFrameTooLarge, len(body))
	}

	frame := binary.AppendUvarint(make([]byte, 0, len(body)+binary.MaxVarintLen64), uint64(len(body)))
	frame = append(frame, body...)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.w.Write(frame)

	return errors.Wrap(err, "error writing frame")
}
