package librq

import "testing"

func TestSubscriptionRegistryInsertAndGet(t *testing.T) {
	r := newSubscriptionRegistry()
	if r.get("work") != nil {
		t.Fatalf("get on empty registry should be nil")
	}

	sub := &subscription{name: "work"}
	r.insert(sub)
	if r.get("work") != sub {
		t.Fatalf("get did not return the inserted subscription")
	}
	if r.get("other") != nil {
		t.Fatalf("get on a different name should be nil")
	}
}

func TestSubscriptionRegistryByQueueID(t *testing.T) {
	r := newSubscriptionRegistry()
	if r.byQueueID(1) != nil {
		t.Fatalf("byQueueID on empty registry should be nil")
	}

	a := &subscription{name: "a", qid: 7}
	b := &subscription{name: "b", qid: 9}
	r.insert(a)
	r.insert(b)

	if r.byQueueID(7) != a {
		t.Fatalf("byQueueID(7) did not find a")
	}
	if r.byQueueID(9) != b {
		t.Fatalf("byQueueID(9) did not find b")
	}
	if r.byQueueID(0) != nil {
		t.Fatalf("byQueueID(0) must always be nil: 0 means unassigned")
	}
	if r.byQueueID(100) != nil {
		t.Fatalf("byQueueID(100) should find nothing")
	}
}

func TestSubscriptionRegistryWithPrefix(t *testing.T) {
	r := newSubscriptionRegistry()
	r.insert(&subscription{name: "jobs.email"})
	r.insert(&subscription{name: "jobs.sms"})
	r.insert(&subscription{name: "events.click"})

	got := r.withPrefix("jobs.")
	if len(got) != 2 {
		t.Fatalf("withPrefix(jobs.) = %v, want 2 entries", got)
	}
}

func TestSubscriptionRegistryForEach(t *testing.T) {
	r := newSubscriptionRegistry()
	names := []string{"a", "b", "c"}
	for _, n := range names {
		r.insert(&subscription{name: n})
	}

	seen := map[string]bool{}
	r.forEach(func(s *subscription) { seen[s.name] = true })
	if len(seen) != 3 {
		t.Fatalf("forEach visited %d subscriptions, want 3", len(seen))
	}
}

func TestValidateQueueName(t *testing.T) {
	if err := validateQueueName(""); err == nil {
		t.Fatalf("empty queue name should be rejected")
	}
	if err := validateQueueName("x"); err != nil {
		t.Fatalf("1-byte queue name should be valid: %v", err)
	}

	max := make([]byte, 255)
	for i := range max {
		max[i] = 'a'
	}
	if err := validateQueueName(string(max)); err != nil {
		t.Fatalf("255-byte queue name should be valid: %v", err)
	}

	tooLong := append(max, 'a')
	if err := validateQueueName(string(tooLong)); err == nil {
		t.Fatalf("256-byte queue name should be rejected")
	}
}

func TestValidatePriority(t *testing.T) {
	for _, p := range []uint16{0, 1, 2, 3} {
		if err := validatePriority(p); err != nil {
			t.Fatalf("priority %d should be valid: %v", p, err)
		}
	}
	if err := validatePriority(4); err == nil {
		t.Fatalf("priority 4 should be rejected")
	}
}
