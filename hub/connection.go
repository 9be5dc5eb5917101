package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roomcast/model"
)

// Built-in connection event names. Application events share the same
// namespace.
const (
	// EventClose fires once when the connection is closed.
	EventClose = "close"
	// EventMessage fires with the raw bytes of an inbound payload that could
	// not be decoded as an envelope.
	EventMessage = "message"
)

// Transport is the send side of one remote peer. Implementations must be
// safe for concurrent use and must fail with ErrTransportClosed once the
// peer is gone.
type Transport interface {
	Send(b []byte) error
	Close() error
}

// Connection wraps one transport-level peer. It carries a process-unique id,
// the set of rooms it belongs to and a local subscription table for
// application-defined events.
type Connection struct {
	id       string
	registry *Registry
	tr       Transport
	emitter  *Emitter
	logger   zerolog.Logger

	mx     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

func NewConnection(tr Transport, registry *Registry, logger *zerolog.Logger) *Connection {
	c := &Connection{
		id:       uuid.NewString(),
		registry: registry,
		tr:       tr,
		emitter:  NewEmitter(),
		rooms:    make(map[string]*Room),
	}
	c.logger = logger.With().Str("component", "connection").Str("id", c.id).Logger()
	return c
}

func (c *Connection) ID() string {
	return c.id
}

// On registers fn for every occurrence of event on this connection.
func (c *Connection) On(event string, fn Handler) *Subscription {
	return c.emitter.On(event, fn)
}

// Once registers fn for the next occurrence of event only.
func (c *Connection) Once(event string, fn Handler) *Subscription {
	return c.emitter.Once(event, fn)
}

// Emit dispatches event locally to this connection's subscribers.
func (c *Connection) Emit(event string, data any) {
	c.emitter.Emit(event, data)
}

// Await blocks until the next occurrence of event on this connection, or
// fails with ErrTimeout.
func (c *Connection) Await(event string, timeout time.Duration) (any, error) {
	return c.emitter.Await(event, timeout)
}

// Send serializes an envelope {event, data} and delivers it to the peer.
func (c *Connection) Send(event string, data map[string]any) error {
	return NewMessage(event, data).Publish(ToConnection(c), nil)
}

// SendRaw delivers b verbatim, bypassing envelope construction.
func (c *Connection) SendRaw(b []byte) error {
	if b == nil {
		return errors.Join(ErrInvalidArgument, errors.New("nil payload"))
	}
	return c.tr.Send(b)
}

// Join adds this connection to r.
func (c *Connection) Join(r *Room) error {
	if r == nil {
		return errors.Join(ErrInvalidArgument, errors.New("nil room"))
	}
	r.AddMember(c)
	return nil
}

// JoinName resolves name through the registry and joins the room.
func (c *Connection) JoinName(name string) error {
	r, err := c.registry.Resolve(name)
	if err != nil {
		return err
	}
	r.AddMember(c)
	return nil
}

// Leave removes this connection from r. Leaving a room never joined is a
// no-op.
func (c *Connection) Leave(r *Room) error {
	if r == nil {
		return errors.Join(ErrInvalidArgument, errors.New("nil room"))
	}
	r.RemoveMember(c)
	return nil
}

// LeaveName resolves name through the registry and leaves the room.
func (c *Connection) LeaveName(name string) error {
	r, err := c.registry.Resolve(name)
	if err != nil {
		return err
	}
	r.RemoveMember(c)
	return nil
}

// Rooms returns a snapshot of the rooms this connection belongs to.
func (c *Connection) Rooms() []*Room {
	c.mx.Lock()
	defer c.mx.Unlock()
	out := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// InRoom reports whether this connection has joined the named room.
func (c *Connection) InRoom(name string) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	_, ok := c.rooms[name]
	return ok
}

func (c *Connection) roomByName(name string) (*Room, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	r, ok := c.rooms[name]
	return r, ok
}

// attachRoom records the back-reference while the room holds its member
// lock. It refuses closed connections so a concurrent Close cannot leave a
// dangling membership.
func (c *Connection) attachRoom(r *Room) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return false
	}
	c.rooms[r.name] = r
	return true
}

func (c *Connection) detachRoom(r *Room) {
	c.mx.Lock()
	defer c.mx.Unlock()
	delete(c.rooms, r.name)
}

// Close emits the close event, removes the connection from every room it
// belongs to and releases the transport. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return nil
	}
	c.closed = true
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mx.Unlock()

	c.emitter.Emit(EventClose, nil)
	for _, r := range rooms {
		r.RemoveMember(c)
	}
	return c.tr.Close()
}

// HandleInbound is the connection's inbound state machine. Bytes that do not
// decode as an envelope surface locally as a raw message event. A decoded
// envelope without a room name dispatches locally. One naming a room this
// connection has joined is relayed to that room's members with the sender
// stamped and excluded. One naming any other room is dropped, so a peer
// cannot spoof broadcasts into rooms it never joined.
func (c *Connection) HandleInbound(raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.emitter.Emit(EventMessage, raw)
		return
	}
	if env.Event == "" {
		return
	}
	if env.Data == nil {
		env.Data = make(map[string]any)
	}
	if env.RoomName == "" {
		c.emitter.Emit(env.Event, env.Data)
		return
	}
	room, ok := c.roomByName(env.RoomName)
	if !ok {
		c.logger.Debug().
			Str("room", env.RoomName).
			Str("event", env.Event).
			Msg("dropping relay to a room the peer never joined")
		return
	}
	msg := NewMessage(env.Event, env.Data).From(c.id).Exclude(c.id)
	if err := msg.Publish(ToRoom(room), nil); err != nil {
		c.logger.Error().Err(err).
			Str("room", env.RoomName).
			Str("event", env.Event).
			Msg("room relay failed")
	}
}
