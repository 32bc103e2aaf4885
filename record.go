package librq

// recordMask bits track which fields the current partial frame has set,
// per spec.md §3.
const (
	maskID = 1 << iota
	maskQueueID
	maskTimeout
	maskPriority
	maskQueue
	maskPayload
)

// recordFlags bits. NOREPLY is the only flag currently defined.
const (
	flagNoReply = 1 << iota
)

// record is the per-connection RISP parse accumulator (spec.md §3). It is
// cleared by the explicit CLEAR command, which must precede every logical
// frame on the wire.
type record struct {
	mask  uint8
	flags uint8

	id       uint16
	qid      uint16
	timeout  uint16
	priority uint16

	queue   []byte
	payload []byte
}

// clear implements the CLEAR terminal (spec.md §4.1): zero the mask and
// flags, reset scalars, clear queue and payload. It does not free
// payload's underlying array — ownership moves into a Message before a
// second payload could ever arrive in the same record (PAYLOAD enforces
// "must be null at entry").
func (r *record) clear() {
	r.mask = 0
	r.flags = 0
	r.id = 0
	r.qid = 0
	r.timeout = 0
	r.priority = 0
	r.queue = nil
	r.payload = nil
}

func (r *record) has(bit uint8) bool { return r.mask&bit != 0 }

// takePayload moves payload ownership out of the record, leaving it empty
// — the explicit move spec.md §9 calls for rather than a copy.
func (r *record) takePayload() []byte {
	p := r.payload
	r.payload = nil
	return p
}
