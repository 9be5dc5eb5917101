package hub

import (
	"encoding/json"
	"errors"

	"roomcast/model"
)

type targetKind int

const (
	targetNone targetKind = iota
	targetConnection
	targetPool
	targetRoom
)

// Target names the recipients of one publish call: a single connection, a
// server-wide pool or a room.
type Target struct {
	kind targetKind
	conn *Connection
	pool *Pool
	room *Room
}

func ToConnection(c *Connection) Target { return Target{kind: targetConnection, conn: c} }
func ToPool(p *Pool) Target             { return Target{kind: targetPool, pool: p} }
func ToRoom(r *Room) Target             { return Target{kind: targetRoom, room: r} }

// Message builds the wire representation of one event and addresses it.
// The zero exclusion set delivers to every recipient of the target.
type Message struct {
	event    string
	source   map[string]any
	exclude  map[string]struct{}
	suppress bool
}

// NewMessage starts a message for event, pre-loading data into the payload.
func NewMessage(event string, data map[string]any) *Message {
	m := &Message{
		event:   event,
		source:  make(map[string]any, len(data)),
		exclude: make(map[string]struct{}),
	}
	for k, v := range data {
		m.source[k] = v
	}
	return m
}

// From stamps the payload's from field with the sender's connection id.
func (m *Message) From(id string) *Message {
	m.source["from"] = id
	return m
}

// Exclude adds connection ids that must not receive this publish. Exclusion
// is by id, never by reference, so it holds across re-wrapped handles.
func (m *Message) Exclude(ids ...string) *Message {
	for _, id := range ids {
		m.exclude[id] = struct{}{}
	}
	return m
}

// Suppress skips the registry message-sent notification for this publish.
func (m *Message) Suppress() *Message {
	m.suppress = true
	return m
}

// Publish merges data over the payload (publish-time keys win), serializes
// the envelope once and delivers it to target's recipients. A direct send
// propagates transport failure to the caller; fan-outs are best-effort per
// recipient.
func (m *Message) Publish(target Target, data map[string]any) error {
	if m.event == "" {
		return errors.Join(ErrInvalidArgument, errors.New("empty event name"))
	}
	merged := make(map[string]any, len(m.source)+len(data))
	for k, v := range m.source {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}

	switch target.kind {
	case targetConnection:
		if target.conn == nil {
			return ErrUnresolvedTarget
		}
		b, err := marshalEnvelope(m.event, merged, "")
		if err != nil {
			return err
		}
		if err = target.conn.tr.Send(b); err != nil {
			return err
		}
		m.notify(target.conn.registry, model.MessageEvent{
			Event:    m.event,
			Data:     merged,
			Source:   model.SourceConnection,
			SourceID: target.conn.id,
		})
	case targetPool:
		if target.pool == nil {
			return ErrUnresolvedTarget
		}
		b, err := marshalEnvelope(m.event, merged, "")
		if err != nil {
			return err
		}
		target.pool.fanOut(b, m.exclude)
		m.notify(target.pool.registry, model.MessageEvent{
			Event:  m.event,
			Data:   merged,
			Source: model.SourceServer,
		})
	case targetRoom:
		if target.room == nil {
			return ErrUnresolvedTarget
		}
		b, err := marshalEnvelope(m.event, merged, target.room.name)
		if err != nil {
			return err
		}
		target.room.fanOut(b, m.exclude)
		m.notify(target.room.registry, model.MessageEvent{
			Event:    m.event,
			Data:     merged,
			Source:   model.SourceRoom,
			SourceID: target.room.name,
		})
	default:
		return ErrUnresolvedTarget
	}
	return nil
}

func (m *Message) notify(reg *Registry, ev model.MessageEvent) {
	if m.suppress || reg == nil {
		return
	}
	reg.NotifyMessage(ev)
}

func marshalEnvelope(event string, data map[string]any, roomName string) ([]byte, error) {
	b, err := json.Marshal(model.Envelope{Event: event, Data: data, RoomName: roomName})
	if err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}
	return b, nil
}
