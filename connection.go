package librq

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/hyper/librq/protocol"
	"github.com/hyper/librq/wire"
)

// connPhase is the socket-level phase of a connection's state machine
// (SPEC_FULL.md §9: typed states rather than assertion-checked flags).
type connPhase int

const (
	// phaseIdle: no socket (spec.md §3 invariant {no socket}).
	phaseIdle connPhase = iota
	// phaseConnecting: socket + connect registration ({socket + connect reg}).
	phaseConnecting
	// phaseActive: socket + active + read reg + optional write reg.
	phaseActive
)

// connection owns one socket, its readiness registrations, its buffers,
// and its RISP parse record, per spec.md §3.
type connection struct {
	client *Client

	host string
	addr string
	port int

	fd int // -1 when not open

	phase connPhase

	regConnect bool
	regRead    bool
	regWrite   bool

	outbuf  []byte
	readbuf []byte
	inbuf   []byte
	sendbuf *wire.Writer

	rec    *record
	parser *wire.Parser

	closing  bool
	shutdown bool

	connectStart time.Time // set by connect, consumed by onConnectComplete
}

func newConnection(cl *Client, host string) (*connection, error) {
	addr, port, err := parseHost(host)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		port = cl.defaultPort
	}
	if port == 0 {
		return nil, &ConfigError{Field: "host", Reason: "no port specified and no default configured"}
	}
	return &connection{client: cl, host: host, addr: addr, port: port, fd: -1, phase: phaseIdle}, nil
}

func (c *connection) active() bool { return c.phase == phaseActive }

// connect implements spec.md §4.2's Open: precondition — connection is at
// the pool head, not shutdown, not closing, no registrations active.
func (c *connection) connect() error {
	if c.shutdown || c.closing {
		return &StateError{Op: "connect", Reason: "connection is shutting down or closing"}
	}
	if c.phase != phaseIdle {
		return &StateError{Op: "connect", Reason: "already connecting or active"}
	}

	sockaddr, family, err := resolveSockaddr(c.addr, c.port)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return &TransportError{Host: c.host, Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return &TransportError{Host: c.host, Err: err}
	}

	c.client.emit(metricConnectAttempt)
	c.connectStart = time.Now()

	err = unix.Connect(fd, sockaddr)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return &TransportError{Host: c.host, Err: err}
	}

	c.fd = fd
	c.phase = phaseConnecting

	if err := c.client.reactor.RegisterConnect(fd, c.onConnectComplete); err != nil {
		return err
	}
	c.regConnect = true
	return nil
}

// onConnectComplete implements spec.md §4.2's connect-completion path.
func (c *connection) onConnectComplete(sockErr error) {
	_ = c.client.reactor.UnregisterConnect(c.fd)
	c.regConnect = false

	if sockErr != nil {
		c.client.logf("WARN", "connect to %s failed: %v", c.host, sockErr)
		c.closedPath(&TransportError{Host: c.host, Err: sockErr})
		return
	}

	c.phase = phaseActive
	c.readbuf = make([]byte, c.client.readChunk)
	c.sendbuf = &wire.Writer{}
	c.rec = &record{}
	c.parser = wire.NewParser(protocol.Specs, c.onField)

	if err := c.client.reactor.RegisterRead(c.fd, c.onReadable); err != nil {
		c.closedPath(err)
		return
	}
	c.regRead = true

	if len(c.outbuf) > 0 {
		if err := c.client.reactor.RegisterWrite(c.fd, c.onWritable); err != nil {
			c.closedPath(err)
			return
		}
		c.regWrite = true
	}

	c.client.emit(metricConnectSuccess)
	c.client.emitSince(metricConnectLatency, c.connectStart)
	c.client.logf("INFO", "connected to %s", c.host)

	c.resubscribeAll()
	c.client.drainPending(c)

	// Some stacks deliver data simultaneously with connect-complete
	// readiness; drain whatever is already there.
	c.onReadable()
}

// resubscribeAll re-sends CONSUME for every active subscription, per
// spec.md §4.2.
func (c *connection) resubscribeAll() {
	c.client.subs.forEach(func(sub *subscription) {
		c.emitConsume(sub)
	})
}

// emitConsume implements spec.md §4.2's CONSUME emit:
// `CLEAR [EXCLUSIVE] QUEUE=name MAX=n PRIORITY=p CONSUME`.
func (c *connection) emitConsume(sub *subscription) {
	var w wire.Writer
	w.NoArg(protocol.Clear)
	if sub.exclusive {
		w.NoArg(protocol.Exclusive)
	}
	w.ShortString(protocol.Queue, []byte(sub.name))
	w.ShortInt(protocol.Max, sub.max)
	w.ShortInt(protocol.Priority, sub.priority)
	w.NoArg(protocol.Consume)
	c.sendData(w.Bytes())
}

// onReadable implements spec.md §4.2's read path.
func (c *connection) onReadable() {
	for {
		if len(c.readbuf) == 0 {
			c.readbuf = make([]byte, c.client.readChunk)
		}
		n, err := unix.Read(c.fd, c.readbuf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if n == 0 && err == nil {
			c.closedPath(&TransportError{Host: c.host, Err: errConnClosed})
			return
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.closedPath(&TransportError{Host: c.host, Err: err})
			return
		}

		data := c.readbuf[:n]
		if len(c.inbuf) > 0 {
			data = append(c.inbuf, data...)
			c.inbuf = nil
		}

		consumed, perr := c.parser.Parse(data)
		if consumed < len(data) {
			tail := make([]byte, len(data)-consumed)
			copy(tail, data[consumed:])
			c.inbuf = tail
		}
		if perr != nil {
			c.client.logf("WARN", "connection %s: protocol error: %v", c.host, perr)
			c.closedPath(perr)
			return
		}

		// A handler may have released the last outstanding message during
		// Shutdown; finish closing this connection if so.
		c.client.maybeFinishShutdown()
		if !c.active() {
			return
		}

		if n == len(c.readbuf) {
			c.readbuf = growBuffer(c.readbuf, c.client.readChunk)
			continue
		}
		// A short read means the socket is drained for now; loop again
		// to confirm EAGAIN rather than assuming it.
	}
}

// onWritable implements spec.md §4.2's write path.
func (c *connection) onWritable() {
	for len(c.outbuf) > 0 {
		n, err := unix.Write(c.fd, c.outbuf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.closedPath(&TransportError{Host: c.host, Err: err})
			return
		}
		if n == 0 {
			c.closedPath(&TransportError{Host: c.host, Err: errConnClosed})
			return
		}
		c.outbuf = c.outbuf[n:]
	}
	if len(c.outbuf) == 0 && c.regWrite {
		_ = c.client.reactor.UnregisterWrite(c.fd)
		c.regWrite = false
	}
}

// sendData implements spec.md §4.2's send_data: the only path that
// schedules outbound bytes.
func (c *connection) sendData(b []byte) {
	c.outbuf = append(c.outbuf, b...)
	if c.active() && !c.regWrite {
		if err := c.client.reactor.RegisterWrite(c.fd, c.onWritable); err == nil {
			c.regWrite = true
		}
	}
}

// closedPath implements spec.md §4.3's seven-step closed-path, triggered
// by transport error, EOF, connect failure, or library-initiated
// shutdown. Any errors unregistering reactor interest are aggregated and
// returned rather than dropped, for Shutdown to report.
func (c *connection) closedPath(cause error) error {
	var errs *multierror.Error

	fd := c.fd

	// Unregister reactor interest before closing fd: close(2) already
	// drops fd from the epoll set, so unregistering afterward would hand
	// EpollReactor a stale fd and surface a spurious EBADF here on every
	// ordinary teardown.
	if c.regRead {
		if err := c.client.reactor.UnregisterRead(fd); err != nil {
			errs = multierror.Append(errs, err)
		}
		c.regRead = false
	}
	if c.regWrite {
		if err := c.client.reactor.UnregisterWrite(fd); err != nil {
			errs = multierror.Append(errs, err)
		}
		c.regWrite = false
	}
	if c.regConnect {
		if err := c.client.reactor.UnregisterConnect(fd); err != nil {
			errs = multierror.Append(errs, err)
		}
		c.regConnect = false
	}

	if fd >= 0 {
		if err := unix.Close(fd); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	c.fd = -1

	c.readbuf = nil
	c.inbuf = nil
	c.sendbuf = nil
	c.rec = nil
	c.parser = nil

	c.client.messages.forEachOwned(c, func(m *Message) {
		if m.failHandler != nil {
			m.failHandler(m)
		}
		c.client.messages.clear(m)
	})

	// Only the pool head is ever actively connected (spec.md §2: "a
	// single live connection"), so a closing connection is always the
	// one any live subscription qid was assigned over.
	c.client.subs.forEach(func(sub *subscription) {
		if sub.qid != 0 {
			if sub.onDropped != nil {
				sub.onDropped(sub.name, sub.qid, sub.arg)
			}
			sub.qid = 0
		}
	})

	wasShutdown := c.shutdown
	c.phase = phaseIdle
	c.closing = false

	c.client.rotateToTail(c)
	c.client.emit(metricFailover)
	if cause != nil {
		c.client.logf("WARN", "connection %s closed: %v", c.host, cause)
	}

	if !wasShutdown && !c.client.shuttingDown {
		c.client.connectHead()
	} else if wasShutdown {
		c.client.onConnectionShutDown(c)
	}

	return errs.ErrorOrNil()
}

var errConnClosed = connClosedErr{}

type connClosedErr struct{}

func (connClosedErr) Error() string { return "connection closed by peer" }
