// Package payload offers optional structured-payload helpers layered on
// top of the raw []byte message bodies the wire protocol carries. Nothing
// in the core client requires these; they exist purely so a caller who
// wants to send a Go value instead of hand-built bytes has somewhere
// idiomatic to turn, the same role hashicorp/go-msgpack plays for serf's
// own RPC payloads.
package payload

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/codec"
)

var mh = &codec.MsgpackHandle{RawToString: true, WriteExt: true}

// EncodeMsgpack serializes v into a byte slice suitable for Message data.
func EncodeMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, mh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMsgpack deserializes data (as produced by EncodeMsgpack, or by a
// controller/peer using a compatible msgpack encoding) into v.
func DecodeMsgpack(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), mh)
	return dec.Decode(v)
}
