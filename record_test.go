package librq

import (
	"bytes"
	"testing"
)

func TestRecordHasTracksMask(t *testing.T) {
	var r record
	if r.has(maskID) {
		t.Fatalf("fresh record should have no bits set")
	}
	r.mask |= maskID
	if !r.has(maskID) {
		t.Fatalf("maskID should be set")
	}
	if r.has(maskQueue) {
		t.Fatalf("maskQueue should not be set")
	}
}

func TestRecordClearResetsEverything(t *testing.T) {
	r := record{
		mask: maskID | maskPayload, flags: flagNoReply,
		id: 1, qid: 2, timeout: 3, priority: 4,
		queue: []byte("q"), payload: []byte("p"),
	}
	r.clear()

	if r.mask != 0 || r.flags != 0 {
		t.Fatalf("clear did not reset mask/flags")
	}
	if r.id != 0 || r.qid != 0 || r.timeout != 0 || r.priority != 0 {
		t.Fatalf("clear did not reset scalars")
	}
	if r.queue != nil || r.payload != nil {
		t.Fatalf("clear did not reset queue/payload")
	}
}

func TestRecordTakePayloadMovesOwnership(t *testing.T) {
	r := record{payload: []byte("hello")}
	got := r.takePayload()
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("takePayload = %q, want %q", got, "hello")
	}
	if r.payload != nil {
		t.Fatalf("takePayload did not clear the record's own reference")
	}
	if second := r.takePayload(); second != nil {
		t.Fatalf("second takePayload should return nil, got %q", second)
	}
}
