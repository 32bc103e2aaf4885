package librq

import (
	"github.com/hyper/librq/protocol"
	"github.com/hyper/librq/wire"
)

// onField is the single entry point the wire.Parser calls for every
// decoded command on this connection. It implements spec.md §4.1: field
// setters accumulate into the current record, flag setters set a bit, and
// terminal commands consume the record and act.
func (c *connection) onField(f wire.Field) error {
	switch f.Cmd {
	case protocol.ID:
		return c.setNumeric(&c.rec.id, maskID, f.Int, 0, 0xffff)
	case protocol.QueueID:
		return c.setNumeric(&c.rec.qid, maskQueueID, f.Int, 1, 0xffff)
	case protocol.Timeout:
		return c.setNumeric(&c.rec.timeout, maskTimeout, f.Int, 1, 0xffff)
	case protocol.Priority:
		return c.setNumeric(&c.rec.priority, maskPriority, f.Int, 1, 0xffff)
	case protocol.Queue:
		c.rec.queue = f.Str
		c.rec.mask |= maskQueue
		return nil
	case protocol.Payload:
		if c.rec.payload != nil {
			return c.protocolError("PAYLOAD", "payload already set in this record")
		}
		c.rec.payload = f.Str
		c.rec.mask |= maskPayload
		return nil

	case protocol.NoReply:
		c.rec.flags |= flagNoReply
		return nil

	case protocol.Clear:
		c.rec.clear()
		return nil
	case protocol.Ping:
		return c.handlePing()
	case protocol.Pong:
		return nil // reserved; genuinely no-op (spec.md §9)
	case protocol.Consuming:
		return c.handleConsuming()
	case protocol.Request:
		return c.handleRequest()
	case protocol.Reply:
		return c.handleReply()
	case protocol.Delivered:
		return c.handleDelivered()
	case protocol.Undelivered:
		return c.handleUndelivered()
	case protocol.Closing:
		return c.handleClosing()
	case protocol.Broadcast:
		return c.protocolError("BROADCAST", "unexpected from controller")
	case protocol.ServerFull:
		return c.protocolError("SERVER_FULL", "controller reports full")

	default:
		return c.protocolError("?", "unhandled command")
	}
}

// setNumeric assigns a ShortInt field into the record, enforcing spec.md
// §4.1's numeric bounds (0 < value <= 0xffff, except ID which allows 0).
func (c *connection) setNumeric(dst *uint16, bit uint8, v uint32, min, max uint32) error {
	if v < min || v > max {
		return c.protocolError("field", "numeric value out of range")
	}
	*dst = uint16(v)
	c.rec.mask |= bit
	return nil
}

func (c *connection) protocolError(cmd, reason string) error {
	err := &ProtocolError{Command: cmd, Reason: reason}
	c.client.logf("WARN", "connection %s: %v", c.host, err)
	return err
}

// handlePing implements spec.md §4.1 PING: enqueue a single-byte PONG
// frame.
func (c *connection) handlePing() error {
	var w wire.Writer
	w.NoArg(protocol.Pong)
	c.sendData(w.Bytes())
	return nil
}

// handleConsuming implements spec.md §4.1 CONSUMING.
func (c *connection) handleConsuming() error {
	if !c.rec.has(maskQueueID) || !c.rec.has(maskQueue) {
		return c.protocolError("CONSUMING", "missing QUEUEID or QUEUE")
	}
	name := string(c.rec.queue)
	sub := c.client.subs.get(name)
	if sub == nil {
		return nil // ignored: no matching subscription
	}
	sub.qid = c.rec.qid
	if sub.onAccepted != nil {
		sub.onAccepted(sub.name, sub.qid, sub.arg)
	}
	return nil
}

// handleRequest implements spec.md §4.1 REQUEST.
func (c *connection) handleRequest() error {
	if !c.rec.has(maskID) || !c.rec.has(maskPayload) {
		return c.protocolError("REQUEST", "missing ID or PAYLOAD")
	}
	if !c.rec.has(maskQueueID) && !c.rec.has(maskQueue) {
		return c.protocolError("REQUEST", "missing QUEUEID or QUEUE")
	}

	srcID := c.rec.id

	var sub *subscription
	if c.rec.has(maskQueueID) {
		sub = c.client.subs.byQueueID(c.rec.qid)
	}
	if sub == nil && c.rec.has(maskQueue) {
		sub = c.client.subs.get(string(c.rec.queue))
	}

	if sub == nil {
		var w wire.Writer
		w.NoArg(protocol.Clear)
		w.ShortInt(protocol.ID, srcID)
		w.NoArg(protocol.Undelivered)
		c.sendData(w.Bytes())
		return nil
	}

	var w wire.Writer
	w.NoArg(protocol.Clear)
	w.ShortInt(protocol.ID, srcID)
	w.NoArg(protocol.Delivered)
	c.sendData(w.Bytes())

	msg := c.client.messages.alloc(c)
	msg.srcID = int(srcID)
	msg.noreply = c.rec.flags&flagNoReply != 0
	msg.data = c.rec.takePayload()
	msg.state = MsgDelivering

	c.client.emit(metricRequestDelivered)

	if sub.onRequest != nil {
		sub.onRequest(msg, sub.arg)
	}

	if msg.noreply || msg.state == MsgReplied {
		c.client.messages.clear(msg)
	} else {
		msg.state = MsgDelivered
	}
	return nil
}

// handleReply implements spec.md §4.1 REPLY.
func (c *connection) handleReply() error {
	if !c.rec.has(maskID) || !c.rec.has(maskPayload) {
		return c.protocolError("REPLY", "missing ID or PAYLOAD")
	}
	msg := c.client.messages.get(int(c.rec.id))
	if msg == nil || !msg.IsOutbound() || msg.srcID != -1 || msg.state != MsgDelivered {
		return c.protocolError("REPLY", "no matching outbound message in DELIVERED state")
	}
	msg.data = c.rec.takePayload()
	if msg.replyHandler != nil {
		msg.replyHandler(msg)
	}
	c.client.emit(metricReply)
	c.client.messages.clear(msg)
	return nil
}

// handleDelivered implements spec.md §4.1 DELIVERED.
func (c *connection) handleDelivered() error {
	if !c.rec.has(maskID) {
		return c.protocolError("DELIVERED", "missing ID")
	}
	msg := c.client.messages.get(int(c.rec.id))
	if msg == nil || !msg.IsOutbound() || msg.state != MsgNew {
		return c.protocolError("DELIVERED", "no matching outbound message in NEW state")
	}
	msg.state = MsgDelivered
	return nil
}

// handleUndelivered handles the controller telling us one of our own
// outbound REQUESTs could not be routed to any consumer (spec.md §6 lists
// UNDELIVERED among commands consumed; symmetric to handleDelivered but
// on the failure path).
func (c *connection) handleUndelivered() error {
	if !c.rec.has(maskID) {
		return c.protocolError("UNDELIVERED", "missing ID")
	}
	msg := c.client.messages.get(int(c.rec.id))
	if msg == nil || !msg.IsOutbound() || msg.state != MsgNew {
		return c.protocolError("UNDELIVERED", "no matching outbound message in NEW state")
	}
	if msg.failHandler != nil {
		msg.failHandler(msg)
	}
	c.client.emit(metricRequestUndelivered)
	c.client.messages.clear(msg)
	return nil
}

// handleClosing implements spec.md §4.1 CLOSING.
func (c *connection) handleClosing() error {
	c.closing = true
	c.client.logf("INFO", "connection %s: controller sent CLOSING", c.host)
	// Head rotation happens on the next failure; meanwhile initiate a
	// connect against the current head, a no-op if that's this same
	// active connection (its connect registration is nil).
	c.client.connectHead()
	return nil
}
