// Package wire is the RISP tag-length-value codec: emit and parse
// primitives for the command catalog in package protocol. spec.md treats
// this codec as an external collaborator the library only consumes; no
// such codec exists as an importable ecosystem package, so it lives here
// as a narrow, protocol-agnostic primitive with no queue semantics of its
// own (it does not know what a CLEAR or a REQUEST *means*, only how big
// its argument is).
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/hyper/librq/protocol"
)

// ErrUnknownCommand is returned by Parse when it encounters a command id
// with no entry in the supplied spec table.
type ErrUnknownCommand byte

func (e ErrUnknownCommand) Error() string {
	return fmt.Sprintf("wire: unknown command 0x%02x", byte(e))
}

// ErrTruncated reports a truncated argument for a command. Parse does not
// return it: an argument whose declared length runs past the end of the
// buffer is treated as a partial command and left unconsumed.
type ErrTruncated struct {
	Cmd byte
}

func (e ErrTruncated) Error() string {
	return fmt.Sprintf("wire: truncated argument for command 0x%02x", e.Cmd)
}

// Field is one decoded command: its id and, depending on the command's
// declared ArgShape, either Int or Str is meaningful.
type Field struct {
	Cmd byte
	Int uint32
	Str []byte
}

// Parser decodes a byte stream into a sequence of Fields, one per command,
// feeding each to Handle as it completes. It has no notion of "frame" or
// "record" — that accumulation belongs to the connection's current record
// (see package librq's record.go).
type Parser struct {
	specs  map[byte]protocol.Spec
	Handle func(Field) error
}

// NewParser builds a Parser against the given command catalog. Handle may
// be set directly on the returned value or afterward.
func NewParser(specs map[byte]protocol.Spec, handle func(Field) error) *Parser {
	return &Parser{specs: specs, Handle: handle}
}

// Parse decodes as many complete commands as buf holds, invoking Handle for
// each, and returns the number of bytes consumed. Any trailing bytes that
// do not form a complete command are left unconsumed — the caller retains
// them (as Connection.inbuf does) and prepends them to the next read.
//
// A decode error aborts before consuming the offending command; the
// caller is expected to treat this as a protocol error and sever the
// connection rather than resynchronize.
func (p *Parser) Parse(buf []byte) (consumed int, err error) {
	for consumed < len(buf) {
		cmd := buf[consumed]
		spec, ok := p.specs[cmd]
		if !ok {
			return consumed, ErrUnknownCommand(cmd)
		}

		rest := buf[consumed+1:]
		switch spec.Arg {
		case protocol.NoArg:
			if err := p.emit(Field{Cmd: cmd}); err != nil {
				return consumed, err
			}
			consumed++

		case protocol.ShortInt:
			if len(rest) < 2 {
				return consumed, nil
			}
			v := binary.BigEndian.Uint16(rest[:2])
			if err := p.emit(Field{Cmd: cmd, Int: uint32(v)}); err != nil {
				return consumed, err
			}
			consumed += 3

		case protocol.LargeInt:
			if len(rest) < 4 {
				return consumed, nil
			}
			v := binary.BigEndian.Uint32(rest[:4])
			if err := p.emit(Field{Cmd: cmd, Int: v}); err != nil {
				return consumed, err
			}
			consumed += 5

		case protocol.ShortString:
			if len(rest) < 1 {
				return consumed, nil
			}
			n := int(rest[0])
			if len(rest) < 1+n {
				return consumed, nil
			}
			str := make([]byte, n)
			copy(str, rest[1:1+n])
			if err := p.emit(Field{Cmd: cmd, Str: str}); err != nil {
				return consumed, err
			}
			consumed += 2 + n

		case protocol.LargeString:
			if len(rest) < 2 {
				return consumed, nil
			}
			n := int(binary.BigEndian.Uint16(rest[:2]))
			if len(rest) < 2+n {
				return consumed, nil
			}
			str := make([]byte, n)
			copy(str, rest[2:2+n])
			if err := p.emit(Field{Cmd: cmd, Str: str}); err != nil {
				return consumed, err
			}
			consumed += 3 + n

		default:
			return consumed, ErrUnknownCommand(cmd)
		}
	}
	return consumed, nil
}

func (p *Parser) emit(f Field) error {
	if p.Handle == nil {
		return nil
	}
	return p.Handle(f)
}

// Writer assembles one outbound frame. Reset empties it for reuse.
type Writer struct {
	buf []byte
}

// Reset empties the writer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Bytes returns the bytes assembled so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// NoArg appends a no-argument command.
func (w *Writer) NoArg(cmd byte) *Writer {
	w.buf = append(w.buf, cmd)
	return w
}

// ShortInt appends a command with a uint16 argument.
func (w *Writer) ShortInt(cmd byte, v uint16) *Writer {
	w.buf = append(w.buf, cmd, byte(v>>8), byte(v))
	return w
}

// ShortString appends a command with a length-prefixed (1 byte) string
// argument. s must be at most 255 bytes; longer input is truncated rather
// than panicking, since this is an emit-side invariant the caller (e.g.
// queue name validation) is expected to have already enforced.
func (w *Writer) ShortString(cmd byte, s []byte) *Writer {
	if len(s) > 255 {
		s = s[:255]
	}
	w.buf = append(w.buf, cmd, byte(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// LargeString appends a command with a length-prefixed (2 byte) byte
// argument. b must be at most 65535 bytes; longer input is truncated.
func (w *Writer) LargeString(cmd byte, b []byte) *Writer {
	if len(b) > 0xffff {
		b = b[:0xffff]
	}
	n := uint16(len(b))
	w.buf = append(w.buf, cmd, byte(n>>8), byte(n))
	w.buf = append(w.buf, b...)
	return w
}
