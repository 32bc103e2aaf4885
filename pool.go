package librq

// connPool is the ordered list of controller connections: the head is the
// preferred active connection; failure rotates it to the tail (spec.md
// §4.3 step 4).
type connPool struct {
	conns []*connection
}

func (p *connPool) add(c *connection) {
	p.conns = append(p.conns, c)
}

func (p *connPool) head() *connection {
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[0]
}

func (p *connPool) len() int { return len(p.conns) }

// rotateToTail moves c from its current position to the tail, a no-op if
// c is the pool's only entry (spec.md §4.3 step 4: "If the pool has more
// than one entry...").
func (p *connPool) rotateToTail(c *connection) {
	if len(p.conns) <= 1 {
		return
	}
	idx := -1
	for i, e := range p.conns {
		if e == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
	p.conns = append(p.conns, c)
}

func (p *connPool) forEach(fn func(*connection)) {
	for _, c := range p.conns {
		fn(c)
	}
}
