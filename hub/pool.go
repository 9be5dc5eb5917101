package hub

import (
	"sync"
)

// Pool is the keyed connection container of one accepting server. A
// connection appears in exactly one pool for its lifetime.
type Pool struct {
	registry *Registry

	mx    sync.RWMutex
	conns map[string]*Connection
}

func NewPool(registry *Registry) *Pool {
	return &Pool{
		registry: registry,
		conns:    make(map[string]*Connection),
	}
}

func (p *Pool) Add(c *Connection) {
	if c == nil {
		return
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	p.conns[c.id] = c
}

// Remove drops the connection by id and returns it, or nil if absent.
func (p *Pool) Remove(id string) *Connection {
	p.mx.Lock()
	defer p.mx.Unlock()
	c := p.conns[id]
	delete(p.conns, id)
	return c
}

func (p *Pool) Get(id string) (*Connection, bool) {
	p.mx.RLock()
	defer p.mx.RUnlock()
	c, ok := p.conns[id]
	return c, ok
}

func (p *Pool) Len() int {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return len(p.conns)
}

// List returns a snapshot of every pooled connection.
func (p *Pool) List() []*Connection {
	p.mx.RLock()
	defer p.mx.RUnlock()
	out := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast publishes one envelope to every pooled connection not excluded.
func (p *Pool) Broadcast(event string, data map[string]any, exclude ...string) error {
	return NewMessage(event, data).Exclude(exclude...).Publish(ToPool(p), nil)
}

func (p *Pool) fanOut(b []byte, exclude map[string]struct{}) {
	p.mx.RLock()
	recipients := make([]*Connection, 0, len(p.conns))
	for id, c := range p.conns {
		if _, skip := exclude[id]; skip {
			continue
		}
		recipients = append(recipients, c)
	}
	p.mx.RUnlock()

	for _, c := range recipients {
		// best-effort, pool-wide sends never abort on one dead peer
		_ = c.tr.Send(b)
	}
}
