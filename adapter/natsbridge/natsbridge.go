// Package natsbridge mirrors room and broadcast events across processes
// over NATS subjects.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"roomcast/hub"
	"roomcast/model"
	"roomcast/server/websocket"
)

const (
	defaultSubjectPrefix = "roomcast"
)

var (
	ErrConnect = errors.New("unable to connect to nats")
)

type Config struct {
	Logger        *zerolog.Logger
	URL           string
	SubjectPrefix string
}

// Adapter mirrors the local registry bus onto NATS subjects and injects
// foreign-origin broadcasts back into local rooms.
type Adapter struct {
	logger   zerolog.Logger
	url      string
	prefix   string
	origin   string
	registry *hub.Registry
	nc       *nats.Conn
	subs     []*hub.Subscription
	natsSubs []*nats.Subscription
}

func New(cfg Config) *Adapter {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	return &Adapter{
		logger: cfg.Logger.With().Str("component", "nats-bridge").Logger(),
		url:    url,
		prefix: prefix,
	}
}

func (a *Adapter) messageSubject() string { return a.prefix + ".msg" }
func (a *Adapter) roomSubject() string    { return a.prefix + ".room" }

// Init connects to NATS, wires the local bus to the broker and starts
// consuming foreign frames. It satisfies websocket.Adapter.
func (a *Adapter) Init(ctx context.Context, registry *hub.Registry, srv *websocket.Server) error {
	nc, err := nats.Connect(a.url, nats.Name("roomcast-bridge-"+srv.ID()))
	if err != nil {
		return errors.Join(ErrConnect, err)
	}
	a.nc = nc
	a.registry = registry
	a.origin = srv.ID()

	msgSub, err := nc.Subscribe(a.messageSubject(), a.handleFrame)
	if err != nil {
		nc.Close()
		return errors.Join(ErrConnect, err)
	}
	roomSub, err := nc.Subscribe(a.roomSubject(), a.handleFrame)
	if err != nil {
		_ = msgSub.Unsubscribe()
		nc.Close()
		return errors.Join(ErrConnect, err)
	}
	a.natsSubs = []*nats.Subscription{msgSub, roomSub}

	a.subs = append(a.subs,
		registry.Bus().On(hub.EventMessageSent, func(data any) {
			ev, ok := data.(model.MessageEvent)
			if !ok || ev.Source != model.SourceRoom {
				return
			}
			a.publish(a.messageSubject(), model.BridgeFrame{Origin: a.origin, Message: &ev})
		}),
		registry.Bus().On(hub.EventRoomAdded, func(data any) {
			ev, ok := data.(model.RoomEvent)
			if !ok {
				return
			}
			a.publish(a.roomSubject(), model.BridgeFrame{Origin: a.origin, Room: &ev})
		}),
		registry.Bus().On(hub.EventRoomRemoved, func(data any) {
			ev, ok := data.(model.RoomEvent)
			if !ok {
				return
			}
			a.publish(a.roomSubject(), model.BridgeFrame{Origin: a.origin, Room: &ev})
		}),
	)

	go func() {
		<-ctx.Done()
		_ = a.Close()
	}()

	a.logger.Info().Str("url", a.url).Msg("nats bridge attached")
	return nil
}

func (a *Adapter) publish(subject string, frame model.BridgeFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal bridge frame")
		return
	}
	if err = a.nc.Publish(subject, b); err != nil {
		a.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish bridge frame")
	}
}

func (a *Adapter) handleFrame(msg *nats.Msg) {
	var frame model.BridgeFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		a.logger.Error().Err(err).Msg("failed to unmarshal bridge frame")
		return
	}
	if frame.Origin == a.origin {
		return
	}
	a.apply(frame)
}

// apply injects a foreign frame into local state. Injected broadcasts are
// suppressed on the bus so they are never mirrored back out.
func (a *Adapter) apply(frame model.BridgeFrame) {
	switch {
	case frame.Room != nil:
		switch frame.Room.Action {
		case model.RoomActionAdd:
			if _, err := a.registry.CreateRoom(frame.Room.Name); err != nil {
				a.logger.Error().Err(err).Str("room", frame.Room.Name).Msg("failed to mirror room")
			}
		case model.RoomActionRemove:
			room, err := a.registry.Resolve(frame.Room.Name)
			if err != nil {
				return
			}
			room.Destroy()
		}
	case frame.Message != nil:
		ev := frame.Message
		room, err := a.registry.Resolve(ev.SourceID)
		if err != nil {
			a.logger.Debug().
				Str("room", ev.SourceID).
				Str("event", ev.Event).
				Msg("dropping foreign broadcast, room not present locally")
			return
		}
		err = hub.NewMessage(ev.Event, ev.Data).Suppress().Publish(hub.ToRoom(room), nil)
		if err != nil {
			a.logger.Error().Err(err).Str("room", ev.SourceID).Msg("failed to inject foreign broadcast")
		}
	}
}

// Close detaches from the bus and drains the NATS connection.
func (a *Adapter) Close() error {
	for _, s := range a.subs {
		s.Cancel()
	}
	a.subs = nil
	for _, s := range a.natsSubs {
		_ = s.Unsubscribe()
	}
	a.natsSubs = nil
	if a.nc != nil && !a.nc.IsClosed() {
		a.nc.Close()
	}
	return nil
}
