// Package reactor defines the event-loop readiness-registration interface
// the client library is driven by. spec.md lists the reactor as an
// external collaborator the library only consumes (§1); this package
// holds that contract plus one concrete reference implementation
// (EpollReactor, Linux only) so the repository is runnable end to end
// without requiring every caller to bring their own.
package reactor

// Reactor registers interest in readiness events for a single file
// descriptor at a time per kind (connect-completion, readable, writable).
// Implementations must support registering and unregistering each kind
// independently; a Connection may have read and write registered
// simultaneously but never connect alongside either (see connection.go's
// state invariants).
//
// Callbacks are invoked on whatever goroutine drives the reactor's loop.
// The client library assumes every callback for a given fd is delivered
// serially and treats the driving goroutine as its sole thread of
// execution — see SPEC_FULL.md §5.
type Reactor interface {
	// RegisterConnect arms a one-shot notification for connect(2)
	// completion on fd. onReady is called with the pending socket error
	// (nil on success). Implementations unregister the interest before
	// invoking onReady.
	RegisterConnect(fd int, onReady func(err error)) error

	// RegisterRead arms a readable notification for fd. onReadable is
	// called each time the descriptor becomes readable (edge- or
	// level-triggered; the caller drains to EAGAIN either way).
	RegisterRead(fd int, onReadable func()) error

	// RegisterWrite arms a writable notification for fd, mirroring
	// RegisterRead.
	RegisterWrite(fd int, onWritable func()) error

	// UnregisterConnect, UnregisterRead, and UnregisterWrite remove a
	// previously-armed interest. Unregistering an interest that was not
	// registered is a no-op, not an error.
	UnregisterConnect(fd int) error
	UnregisterRead(fd int) error
	UnregisterWrite(fd int) error
}
