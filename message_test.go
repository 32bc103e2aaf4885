package librq

import "testing"

func TestMessageTableAllocReusesNextFreeHint(t *testing.T) {
	tbl := newMessageTable()

	m1 := tbl.alloc(nil)
	m2 := tbl.alloc(nil)
	if m1.ID() != 0 || m2.ID() != 1 {
		t.Fatalf("got ids %d, %d; want 0, 1", m1.ID(), m2.ID())
	}

	tbl.clear(m1)
	if tbl.used != 1 {
		t.Fatalf("used = %d, want 1", tbl.used)
	}

	m3 := tbl.alloc(nil)
	if m3.ID() != 0 {
		t.Fatalf("alloc after clear got id %d, want reused slot 0", m3.ID())
	}
	if tbl.get(0) != m3 {
		t.Fatalf("get(0) did not return the newly allocated message")
	}
}

func TestMessageTableAllocScansForHoleWhenHintStale(t *testing.T) {
	tbl := newMessageTable()

	m0 := tbl.alloc(nil)
	m1 := tbl.alloc(nil)
	_ = tbl.alloc(nil) // id 2

	tbl.clear(m0) // nextFree = 0
	tbl.clear(m1) // nextFree = 1, but slot 0 is also free

	// alloc should take the nextFree hint (1) first.
	got := tbl.alloc(nil)
	if got.ID() != 1 {
		t.Fatalf("id = %d, want 1 (nextFree hint)", got.ID())
	}

	// Next alloc has no valid hint left; must scan and find slot 0.
	got2 := tbl.alloc(nil)
	if got2.ID() != 0 {
		t.Fatalf("id = %d, want 0 (scanned hole)", got2.ID())
	}
}

func TestMessageTableAllocGrowsWhenNoHolesExist(t *testing.T) {
	tbl := newMessageTable()
	for i := 0; i < 3; i++ {
		if got := tbl.alloc(nil).ID(); got != i {
			t.Fatalf("alloc %d got id %d, want %d", i, got, i)
		}
	}
	if tbl.used != 3 {
		t.Fatalf("used = %d, want 3", tbl.used)
	}
}

func TestMessageTableGetOutOfRange(t *testing.T) {
	tbl := newMessageTable()
	if tbl.get(-1) != nil {
		t.Fatalf("get(-1) should be nil")
	}
	if tbl.get(5) != nil {
		t.Fatalf("get(5) on empty table should be nil")
	}
}

func TestMessageTableClearReleasesSlotForReuse(t *testing.T) {
	tbl := newMessageTable()
	m := tbl.alloc(nil)
	id := m.ID()
	tbl.clear(m)
	if tbl.get(id) != nil {
		t.Fatalf("get(%d) after clear should be nil", id)
	}
	if len(tbl.freePool) != 1 {
		t.Fatalf("freePool len = %d, want 1", len(tbl.freePool))
	}
}

func TestMessageTableForEachOwned(t *testing.T) {
	tbl := newMessageTable()
	conn := &connection{}
	other := &connection{}

	owned := tbl.alloc(conn)
	tbl.alloc(other)
	tbl.alloc(conn)

	var seen []*Message
	tbl.forEachOwned(conn, func(m *Message) { seen = append(seen, m) })
	if len(seen) != 2 {
		t.Fatalf("forEachOwned found %d messages, want 2", len(seen))
	}
	if seen[0] != owned && seen[1] != owned {
		t.Fatalf("forEachOwned missed the first owned message")
	}
}

func TestMessageSettersAreMonotonic(t *testing.T) {
	m := &Message{conn: nil}

	if err := m.SetQueue("work"); err != nil {
		t.Fatalf("first SetQueue: %v", err)
	}
	if err := m.SetQueue("again"); err == nil {
		t.Fatalf("second SetQueue should fail")
	}

	if err := m.SetData([]byte("payload")); err != nil {
		t.Fatalf("first SetData: %v", err)
	}
	if err := m.SetData([]byte("again")); err == nil {
		t.Fatalf("second SetData should fail")
	}

	if err := m.SetNoReply(); err != nil {
		t.Fatalf("first SetNoReply: %v", err)
	}
	if err := m.SetNoReply(); err == nil {
		t.Fatalf("second SetNoReply should fail")
	}

	if err := m.SetBroadcast(); err != nil {
		t.Fatalf("first SetBroadcast: %v", err)
	}
	if err := m.SetBroadcast(); err == nil {
		t.Fatalf("second SetBroadcast should fail")
	}
}

func TestMessageIsOutbound(t *testing.T) {
	out := &Message{conn: nil}
	if !out.IsOutbound() {
		t.Fatalf("nil conn should mean outbound")
	}
	in := &Message{conn: &connection{}}
	if in.IsOutbound() {
		t.Fatalf("non-nil conn should mean inbound")
	}
}

func TestMessageStateString(t *testing.T) {
	cases := map[MessageState]string{
		MsgNew:        "NEW",
		MsgDelivering: "DELIVERING",
		MsgDelivered:  "DELIVERED",
		MsgReplied:    "REPLIED",
		MessageState(99): "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
