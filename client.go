package librq

import (
	"log"

	"github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/hyper/librq/protocol"
	"github.com/hyper/librq/reactor"
	"github.com/hyper/librq/wire"
)

// pendingSend is a queued outbound message waiting for a connection to
// become eligible (spec.md §9 "pending sends during outage"). Message
// already carries its reply/fail handlers once Send has set them.
type pendingSend struct {
	msg *Message
}

// Client is the public facade: add_controller, consume, send, reply,
// shutdown, cleanup (spec.md §4.6).
type Client struct {
	reactor reactor.Reactor

	pool     connPool
	subs     *subscriptionRegistry
	messages *messageTable
	pending  []*pendingSend

	id string

	logger  *log.Logger
	metrics metricsSink

	defaultPort int
	readChunk   int

	shuttingDown bool
}

// New constructs a Client against the given configuration. cfg.Reactor is
// required; everything else has a workable default.
func New(cfg Config) (*Client, error) {
	if cfg.Reactor == nil {
		return nil, &ConfigError{Field: "Reactor", Reason: "required"}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}

	readChunk := cfg.ReadChunk
	if readChunk <= 0 {
		readChunk = defaultReadChunk
	}

	c := &Client{
		reactor:     cfg.Reactor,
		subs:        newSubscriptionRegistry(),
		messages:    newMessageTable(),
		id:          id,
		logger:      logger,
		metrics:     newMetricsSink(cfg),
		defaultPort: cfg.DefaultPort,
		readChunk:   readChunk,
	}

	for _, host := range cfg.Controllers {
		if err := c.AddController(host); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Client) logf(level, format string, args ...interface{}) {
	c.logger.Printf("["+level+"] librq %s: "+format, append([]interface{}{c.id}, args...)...)
}

func (c *Client) headConn() *connection { return c.pool.head() }

func (c *Client) rotateToTail(conn *connection) { c.pool.rotateToTail(conn) }

// connectHead initiates a connect against the current pool head if it is
// idle. Connecting to an already-active or already-connecting head is a
// no-op, matching spec.md §4.1's CLOSING note: "which may already be this
// connection — implementation must treat that as a no-op."
func (c *Client) connectHead() {
	head := c.pool.head()
	if head == nil || head.phase != phaseIdle || head.shutdown {
		return
	}
	if err := head.connect(); err != nil {
		c.logf("WARN", "connect to %s failed: %v", head.host, err)
		if cerr := head.closedPath(err); cerr != nil {
			c.logf("WARN", "connection %s: error tearing down after failed connect: %v", head.host, cerr)
		}
	}
}

// drainPending flushes the per-client pending-send FIFO onto conn, in
// order, immediately after conn's CONSUMEs are re-issued (spec.md §4.6,
// §9).
func (c *Client) drainPending(conn *connection) {
	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		c.emitSend(conn, p.msg)
	}
}

// maybeFinishShutdown closes any connection that sent CLOSING during
// Shutdown and was only waiting for in-flight messages to drain (spec.md
// §4.6: "then close only when zero messages are outstanding").
func (c *Client) maybeFinishShutdown() {
	if !c.shuttingDown || c.messages.used != 0 {
		return
	}
	c.pool.forEach(func(conn *connection) {
		if conn.shutdown && conn.closing && conn.active() {
			if err := conn.closedPath(nil); err != nil {
				c.logf("WARN", "connection %s: error tearing down: %v", conn.host, err)
			}
		}
	})
}

// onConnectionShutDown is closedPath's notification that a connection
// finished tearing down as part of Shutdown.
func (c *Client) onConnectionShutDown(conn *connection) {
	c.logf("INFO", "connection %s shut down", conn.host)
}

// ShutdownComplete reports whether every connection has finished
// library-initiated teardown and Cleanup may safely be called.
func (c *Client) ShutdownComplete() bool {
	complete := true
	c.pool.forEach(func(conn *connection) {
		if !(conn.shutdown && conn.phase == phaseIdle) {
			complete = false
		}
	})
	return complete
}

// AddController implements spec.md §4.6's add_controller: append to the
// pool; if it is now the only entry, initiate connect.
func (c *Client) AddController(host string) error {
	conn, err := newConnection(c, host)
	if err != nil {
		return err
	}
	c.pool.add(conn)
	if c.pool.len() == 1 {
		c.connectHead()
	}
	return nil
}

// Consume implements spec.md §4.4's consume.
func (c *Client) Consume(name string, max uint16, priority uint16, exclusive bool, onRequest RequestHandler, onAccepted AcceptedHandler, onDropped DroppedHandler, arg interface{}) error {
	if err := validateQueueName(name); err != nil {
		return err
	}
	if err := validatePriority(priority); err != nil {
		return err
	}
	if onRequest == nil {
		return &ConfigError{Field: "onRequest", Reason: "handler required"}
	}
	if c.subs.get(name) != nil {
		return nil // dedup by name: no-op
	}

	sub := &subscription{
		name:       name,
		max:        max,
		priority:   priority,
		exclusive:  exclusive,
		onRequest:  onRequest,
		onAccepted: onAccepted,
		onDropped:  onDropped,
		arg:        arg,
	}
	c.subs.insert(sub)

	head := c.pool.head()
	if head != nil && head.active() && !head.closing {
		head.emitConsume(sub)
	}
	return nil
}

// Queues returns every subscribed queue name beginning with prefix, in
// radix order. Not required by spec.md; a natural query to expose given
// the subscription registry is already radix-indexed by name (SPEC_FULL.md
// §4.4), useful for diagnostics/logging.
func (c *Client) Queues(prefix string) []string {
	return c.subs.withPrefix(prefix)
}

// NewMessage allocates an outbound message for use with Send.
func (c *Client) NewMessage() *Message {
	return c.messages.alloc(nil)
}

// Send implements spec.md §4.6's send. Preconditions: msg is outbound,
// has a queue, is in state NEW, and has non-empty data. If no connection
// is currently eligible, the message is retained and sent on the next
// successful connect (spec.md §9).
func (c *Client) Send(msg *Message, replyHandler ReplyHandler, failHandler FailHandler, arg interface{}) error {
	if !msg.IsOutbound() {
		return &StateError{Op: "Send", Reason: "message is inbound"}
	}
	if msg.set&fieldQueue == 0 {
		return &StateError{Op: "Send", Reason: "queue not set"}
	}
	if msg.state != MsgNew {
		return &StateError{Op: "Send", Reason: "message already sent"}
	}
	if len(msg.data) == 0 {
		return &StateError{Op: "Send", Reason: "data is empty"}
	}

	msg.replyHandler = replyHandler
	msg.failHandler = failHandler
	msg.arg = arg

	head := c.pool.head()
	if head != nil && head.active() && !head.closing {
		c.emitSend(head, msg)
		return nil
	}

	c.pending = append(c.pending, &pendingSend{msg: msg})
	return nil
}

// emitSend writes msg's REQUEST/BROADCAST frame onto conn. Called both
// from Send (when a connection is already eligible) and from
// drainPending (once one becomes eligible).
func (c *Client) emitSend(conn *connection, msg *Message) {
	var w wire.Writer
	w.NoArg(protocol.Clear)
	w.ShortInt(protocol.ID, uint16(msg.id))
	w.ShortString(protocol.Queue, []byte(msg.queue))
	w.LargeString(protocol.Payload, msg.data)
	if msg.noreply {
		w.NoArg(protocol.NoReply)
	}
	if msg.broadcast {
		w.NoArg(protocol.Broadcast)
	} else {
		w.NoArg(protocol.Request)
	}
	conn.sendData(w.Bytes())
	c.emit(metricSend)
}

// Reply implements spec.md §4.6's reply.
func (c *Client) Reply(msg *Message, data []byte) error {
	if msg.IsOutbound() {
		return &StateError{Op: "Reply", Reason: "message is outbound"}
	}
	if msg.state != MsgDelivering && msg.state != MsgDelivered {
		return &StateError{Op: "Reply", Reason: "message not awaiting reply"}
	}
	if msg.noreply {
		return &StateError{Op: "Reply", Reason: "message is noreply"}
	}
	if msg.broadcast {
		return &StateError{Op: "Reply", Reason: "message is broadcast"}
	}

	var w wire.Writer
	w.NoArg(protocol.Clear)
	w.ShortInt(protocol.ID, uint16(msg.srcID))
	if len(data) > 0 {
		w.LargeString(protocol.Payload, data)
	}
	w.NoArg(protocol.Reply)
	msg.conn.sendData(w.Bytes())

	if msg.state == MsgDelivered {
		c.messages.clear(msg)
	} else {
		msg.state = MsgReplied
	}
	c.maybeFinishShutdown()
	return nil
}

// Shutdown implements spec.md §4.6's shutdown: for every connection not
// already shutting down, mark shutdown; cancel mid-connect attempts
// immediately; for active connections, emit CLOSING and close once no
// messages remain outstanding.
func (c *Client) Shutdown() error {
	c.shuttingDown = true

	var result *multierror.Error
	c.pool.forEach(func(conn *connection) {
		if conn.shutdown {
			return
		}
		conn.shutdown = true

		switch conn.phase {
		case phaseIdle:
			// Nothing live to tear down.
		case phaseConnecting:
			if err := conn.closedPath(nil); err != nil {
				result = multierror.Append(result, err)
			}
		case phaseActive:
			conn.closing = true
			var w wire.Writer
			w.NoArg(protocol.Clear)
			w.NoArg(protocol.Closing)
			conn.sendData(w.Bytes())
			if c.messages.used == 0 {
				if err := conn.closedPath(nil); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	})

	return result.ErrorOrNil()
}

// Cleanup implements spec.md §4.6's cleanup: must be called only after
// Shutdown has fully quiesced every connection. Pops and frees every
// connection, subscription, and message slot.
func (c *Client) Cleanup() error {
	if !c.ShutdownComplete() {
		return &StateError{Op: "Cleanup", Reason: "shutdown has not completed"}
	}
	if c.messages.used != 0 {
		return &StateError{Op: "Cleanup", Reason: "messages still outstanding"}
	}

	c.pool = connPool{}
	c.subs = newSubscriptionRegistry()
	c.messages = newMessageTable()
	c.pending = nil
	return nil
}
