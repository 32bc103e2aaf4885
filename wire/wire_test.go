package wire

import (
	"bytes"
	"testing"

	"github.com/hyper/librq/protocol"
)

func TestWriterParserRoundTrip(t *testing.T) {
	var w Writer
	w.NoArg(protocol.Clear)
	w.ShortInt(protocol.ID, 42)
	w.ShortString(protocol.Queue, []byte("work"))
	w.LargeString(protocol.Payload, []byte("hello world"))
	w.NoArg(protocol.Request)

	var got []Field
	p := NewParser(protocol.Specs, func(f Field) error {
		got = append(got, f)
		return nil
	})

	consumed, err := p.Parse(w.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if consumed != len(w.Bytes()) {
		t.Fatalf("consumed %d, want %d", consumed, len(w.Bytes()))
	}

	want := []Field{
		{Cmd: protocol.Clear},
		{Cmd: protocol.ID, Int: 42},
		{Cmd: protocol.Queue, Str: []byte("work")},
		{Cmd: protocol.Payload, Str: []byte("hello world")},
		{Cmd: protocol.Request},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d fields, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Cmd != want[i].Cmd || got[i].Int != want[i].Int || !bytes.Equal(got[i].Str, want[i].Str) {
			t.Fatalf("field %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParsePartialFrameLeavesTail(t *testing.T) {
	var w Writer
	w.ShortString(protocol.Queue, []byte("abc"))
	full := w.Bytes()

	// Feed everything but the last byte: should consume nothing for the
	// in-progress ShortString command.
	partial := full[:len(full)-1]

	var got []Field
	p := NewParser(protocol.Specs, func(f Field) error {
		got = append(got, f)
		return nil
	})
	consumed, err := p.Parse(partial)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if consumed != 0 {
		t.Fatalf("consumed %d bytes of a partial command, want 0", consumed)
	}
	if len(got) != 0 {
		t.Fatalf("got %d fields from a partial command, want 0", len(got))
	}
}

func TestParseUnknownCommand(t *testing.T) {
	p := NewParser(protocol.Specs, func(Field) error { return nil })
	_, err := p.Parse([]byte{0xFE})
	var unknown ErrUnknownCommand
	if !errorsAs(err, &unknown) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func errorsAs(err error, target *ErrUnknownCommand) bool {
	e, ok := err.(ErrUnknownCommand)
	if ok {
		*target = e
	}
	return ok
}

func TestParseMultipleFramesInOneRead(t *testing.T) {
	var w Writer
	w.NoArg(protocol.Clear)
	w.ShortInt(protocol.ID, 1)
	w.NoArg(protocol.Ping)
	w.NoArg(protocol.Clear)
	w.ShortInt(protocol.ID, 2)
	w.NoArg(protocol.Ping)

	var cmds []byte
	p := NewParser(protocol.Specs, func(f Field) error {
		cmds = append(cmds, f.Cmd)
		return nil
	})
	consumed, err := p.Parse(w.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if consumed != len(w.Bytes()) {
		t.Fatalf("consumed %d, want %d", consumed, len(w.Bytes()))
	}
	if len(cmds) != 6 {
		t.Fatalf("got %d commands, want 6", len(cmds))
	}
}
