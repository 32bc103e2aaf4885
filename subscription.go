package librq

import (
	"github.com/armon/go-radix"

	"github.com/hyper/librq/protocol"
)

// subscription is the registry record for one queue this client consumes
// (spec.md §3). qid is 0 until the controller's CONSUMING assigns one.
type subscription struct {
	name      string
	max       uint16
	priority  uint16
	exclusive bool

	qid uint16

	onRequest  RequestHandler
	onAccepted AcceptedHandler
	onDropped  DroppedHandler
	arg        interface{}
}

// subscriptionRegistry indexes subscriptions by name in a radix tree
// (SPEC_FULL.md §4.4), giving dedup-by-name and name lookups as
// O(len(name)) tree walks and ordered/prefix iteration for free; qid
// lookups (byQueueID) scan every entry.
type subscriptionRegistry struct {
	byName *radix.Tree
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{byName: radix.New()}
}

// get returns the subscription named name, or nil.
func (r *subscriptionRegistry) get(name string) *subscription {
	v, ok := r.byName.Get(name)
	if !ok {
		return nil
	}
	return v.(*subscription)
}

// insert adds a new subscription, assuming the caller already checked for
// a duplicate via get.
func (r *subscriptionRegistry) insert(sub *subscription) {
	r.byName.Insert(sub.name, sub)
}

// byQueueID scans for the subscription currently assigned qid. REQUEST
// frames prefer qid lookup (spec.md §4.1); the registry is small enough in
// practice that a linear scan over an already-in-memory radix tree is
// cheaper than maintaining a second index.
func (r *subscriptionRegistry) byQueueID(qid uint16) *subscription {
	if qid == 0 {
		return nil
	}
	var found *subscription
	r.byName.Walk(func(_ string, v interface{}) bool {
		sub := v.(*subscription)
		if sub.qid == qid {
			found = sub
			return true
		}
		return false
	})
	return found
}

// withPrefix returns every subscribed queue name beginning with prefix, in
// radix order. Backs Client.Queues.
func (r *subscriptionRegistry) withPrefix(prefix string) []string {
	var names []string
	r.byName.WalkPrefix(prefix, func(name string, _ interface{}) bool {
		names = append(names, name)
		return false
	})
	return names
}

// forEach invokes fn for every subscription, in radix order.
func (r *subscriptionRegistry) forEach(fn func(*subscription)) {
	r.byName.Walk(func(_ string, v interface{}) bool {
		fn(v.(*subscription))
		return false
	})
}

// validateQueueName enforces spec.md §4.4's length bound (1..255 bytes).
func validateQueueName(name string) error {
	if len(name) < 1 || len(name) > 255 {
		return &ConfigError{Field: "queue", Reason: "name must be 1-255 bytes"}
	}
	return nil
}

func validatePriority(p uint16) error {
	if !protocol.ValidPriority(p) {
		return &ConfigError{Field: "priority", Reason: "unknown priority"}
	}
	return nil
}
