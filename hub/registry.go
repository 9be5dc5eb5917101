package hub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"roomcast/model"
)

// Registry bus event names. Adapters subscribe to these to mirror state to
// other processes.
const (
	// EventRoomAdded fires with a model.RoomEvent on first registration of a
	// room name.
	EventRoomAdded = "room-added"
	// EventRoomRemoved fires with a model.RoomEvent when a registered room is
	// removed.
	EventRoomRemoved = "room-removed"
	// EventMessageSent fires with a model.MessageEvent for every successful
	// publish that is not suppressed.
	EventMessageSent = "message-sent"
	// EventListening fires with the server id when a server begins accepting.
	EventListening = "listening"
)

// Registry is the process-wide room directory plus the notification bus.
// It is constructed explicitly and injected into servers and connections, so
// tests and multi-registry processes need no global state.
type Registry struct {
	logger zerolog.Logger
	bus    *Emitter

	mx    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		bus:    NewEmitter(),
		rooms:  make(map[string]*Room),
	}
}

// Bus exposes the notification bus for adapters and observability.
func (reg *Registry) Bus() *Emitter {
	return reg.bus
}

// CreateRoom returns the registered room of that name, constructing and
// registering it through AddRoom first if absent.
func (reg *Registry) CreateRoom(name string) (*Room, error) {
	if name == "" {
		return nil, errors.Join(ErrInvalidArgument, errors.New("empty room name"))
	}
	for {
		if r, err := reg.Resolve(name); err == nil {
			return r, nil
		}
		r := &Room{
			name:     name,
			registry: reg,
			emitter:  NewEmitter(),
			logger:   reg.logger.With().Str("room", name).Logger(),
			members:  make(map[string]*Connection),
			alive:    true,
		}
		if reg.AddRoom(r) {
			reg.logger.Debug().Str("room", name).Msg("room registered")
			return r, nil
		}
		// lost the registration race, resolve the winner on the next pass
	}
}

// AddRoom registers r, emitting a room-added notification only on first
// registration of its name. Dead rooms are refused, so a destroyed room can
// never become resolvable again. It reports whether r was registered.
func (reg *Registry) AddRoom(r *Room) bool {
	if r == nil || !r.Alive() {
		return false
	}
	reg.mx.Lock()
	if _, ok := reg.rooms[r.name]; ok {
		reg.mx.Unlock()
		return false
	}
	reg.rooms[r.name] = r
	reg.mx.Unlock()
	reg.bus.Emit(EventRoomAdded, model.RoomEvent{Action: model.RoomActionAdd, Name: r.name})
	return true
}

// DeleteRoom removes r from the directory, emitting a room-removed
// notification only if it was registered.
func (reg *Registry) DeleteRoom(r *Room) {
	if r == nil {
		return
	}
	reg.mx.Lock()
	if _, ok := reg.rooms[r.name]; !ok {
		reg.mx.Unlock()
		return
	}
	delete(reg.rooms, r.name)
	reg.mx.Unlock()
	reg.bus.Emit(EventRoomRemoved, model.RoomEvent{Action: model.RoomActionRemove, Name: r.name})
}

// Resolve returns the registered room of that name.
func (reg *Registry) Resolve(name string) (*Room, error) {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	r, ok := reg.rooms[name]
	if !ok {
		return nil, errors.Join(ErrUnknownRoom, fmt.Errorf("no room named %q", name))
	}
	return r, nil
}

// Rooms returns a snapshot of every registered room.
func (reg *Registry) Rooms() []*Room {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// NotifyMessage publishes a message-sent notification on the bus.
func (reg *Registry) NotifyMessage(ev model.MessageEvent) {
	reg.bus.Emit(EventMessageSent, ev)
}

// NotifyListening publishes a listening notification on the bus.
func (reg *Registry) NotifyListening(serverID string) {
	reg.bus.Emit(EventListening, serverID)
}
