package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// Room event names.
const (
	// EventConnection fires with the joining *Connection.
	EventConnection = "connection"
	// EventDisconnect fires with the leaving *Connection.
	EventDisconnect = "disconnect"
)

// Room owns the member set of one named group and fans broadcasts out to it.
// Rooms are created through Registry.CreateRoom and stay registered until
// destroyed.
type Room struct {
	name     string
	registry *Registry
	emitter  *Emitter
	logger   zerolog.Logger

	mx      sync.Mutex
	members map[string]*Connection
	alive   bool
}

func (r *Room) Name() string {
	return r.name
}

// On registers fn for every occurrence of event on this room.
func (r *Room) On(event string, fn Handler) *Subscription {
	return r.emitter.On(event, fn)
}

// Once registers fn for the next occurrence of event only.
func (r *Room) Once(event string, fn Handler) *Subscription {
	return r.emitter.Once(event, fn)
}

// Alive reports whether the room still accepts joins.
func (r *Room) Alive() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.alive
}

// Len reports the current member count.
func (r *Room) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.members)
}

// Members returns a snapshot of the current members.
func (r *Room) Members() []*Connection {
	r.mx.Lock()
	defer r.mx.Unlock()
	out := make([]*Connection, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	return out
}

// Member reports whether the connection id is currently a member.
func (r *Room) Member(id string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	_, ok := r.members[id]
	return ok
}

// AddMember records bidirectional membership and emits a connection event.
// Adding to a dead room, or adding a member already present, is a no-op.
func (r *Room) AddMember(c *Connection) {
	if c == nil {
		return
	}
	r.mx.Lock()
	if !r.alive {
		r.mx.Unlock()
		return
	}
	if _, ok := r.members[c.id]; ok {
		r.mx.Unlock()
		return
	}
	if !c.attachRoom(r) {
		r.mx.Unlock()
		return
	}
	r.members[c.id] = c
	r.mx.Unlock()
	r.emitter.Emit(EventConnection, c)
}

// RemoveMember removes bidirectional membership and emits a disconnect
// event. Removing an absent member is a no-op.
func (r *Room) RemoveMember(c *Connection) {
	if c == nil {
		return
	}
	r.mx.Lock()
	if _, ok := r.members[c.id]; !ok {
		r.mx.Unlock()
		return
	}
	delete(r.members, c.id)
	c.detachRoom(r)
	r.mx.Unlock()
	r.emitter.Emit(EventDisconnect, c)
}

// DisconnectAll removes every current member, each removal emitting its own
// disconnect event. The member list is snapshotted first, so members leaving
// mid-iteration are tolerated.
func (r *Room) DisconnectAll() {
	for _, c := range r.Members() {
		r.RemoveMember(c)
	}
}

// Broadcast serializes one envelope {event, roomName, data} and sends the
// identical bytes to every current member whose id is not excluded.
func (r *Room) Broadcast(event string, data map[string]any, exclude ...string) error {
	return NewMessage(event, data).Exclude(exclude...).Publish(ToRoom(r), nil)
}

// Destroy marks the room dead, deregisters it and forces every member out.
// The room is unresolvable by name before members are removed, so no join
// can race a half-destroyed room. Destroying twice is a no-op.
func (r *Room) Destroy() {
	r.mx.Lock()
	if !r.alive {
		r.mx.Unlock()
		return
	}
	r.alive = false
	r.mx.Unlock()

	r.registry.DeleteRoom(r)
	r.DisconnectAll()
	r.logger.Debug().Msg("room destroyed")
}

// fanOut sends the serialized payload to every member not excluded. Sends
// are best-effort, a dead member does not abort the loop.
func (r *Room) fanOut(b []byte, exclude map[string]struct{}) {
	r.mx.Lock()
	recipients := make([]*Connection, 0, len(r.members))
	for id, c := range r.members {
		if _, skip := exclude[id]; skip {
			continue
		}
		recipients = append(recipients, c)
	}
	r.mx.Unlock()

	for _, c := range recipients {
		if err := c.tr.Send(b); err != nil {
			r.logger.Debug().Err(err).
				Str("member", c.id).
				Msg("fan-out send failed")
		}
	}
}
