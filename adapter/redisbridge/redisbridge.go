// Package redisbridge mirrors room and broadcast events across processes
// over Redis pub/sub channels.
package redisbridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"roomcast/hub"
	"roomcast/model"
	"roomcast/server/websocket"
)

const (
	defaultChannelPrefix = "roomcast"
)

var (
	ErrConnect = errors.New("unable to connect to redis")
)

type Config struct {
	Logger        *zerolog.Logger
	Addr          string
	ChannelPrefix string
}

// Adapter mirrors the local registry bus onto Redis channels and injects
// foreign-origin broadcasts back into local rooms.
type Adapter struct {
	logger   zerolog.Logger
	client   *redis.Client
	prefix   string
	origin   string
	registry *hub.Registry
	subs     []*hub.Subscription
	pubsub   *redis.PubSub
}

func New(cfg Config) *Adapter {
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &Adapter{
		logger: cfg.Logger.With().Str("component", "redis-bridge").Logger(),
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		prefix: prefix,
	}
}

func (a *Adapter) messageChannel() string { return a.prefix + ".messages" }
func (a *Adapter) roomChannel() string    { return a.prefix + ".rooms" }

// Init verifies the Redis connection, wires the local bus to the broker and
// starts consuming foreign frames. It satisfies websocket.Adapter.
func (a *Adapter) Init(ctx context.Context, registry *hub.Registry, srv *websocket.Server) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrConnect, err)
	}
	a.registry = registry
	a.origin = srv.ID()

	a.subs = append(a.subs,
		registry.Bus().On(hub.EventMessageSent, func(data any) {
			ev, ok := data.(model.MessageEvent)
			if !ok || ev.Source != model.SourceRoom {
				return
			}
			a.publish(ctx, a.messageChannel(), model.BridgeFrame{Origin: a.origin, Message: &ev})
		}),
		registry.Bus().On(hub.EventRoomAdded, func(data any) {
			ev, ok := data.(model.RoomEvent)
			if !ok {
				return
			}
			a.publish(ctx, a.roomChannel(), model.BridgeFrame{Origin: a.origin, Room: &ev})
		}),
		registry.Bus().On(hub.EventRoomRemoved, func(data any) {
			ev, ok := data.(model.RoomEvent)
			if !ok {
				return
			}
			a.publish(ctx, a.roomChannel(), model.BridgeFrame{Origin: a.origin, Room: &ev})
		}),
	)

	a.pubsub = a.client.Subscribe(ctx, a.messageChannel(), a.roomChannel())
	if _, err := a.pubsub.Receive(ctx); err != nil {
		a.detach()
		return errors.Join(ErrConnect, err)
	}
	go a.consume(ctx, a.pubsub.Channel())

	a.logger.Info().Str("addr", a.client.Options().Addr).Msg("redis bridge attached")
	return nil
}

func (a *Adapter) publish(ctx context.Context, channel string, frame model.BridgeFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal bridge frame")
		return
	}
	if err = a.client.Publish(ctx, channel, b).Err(); err != nil {
		a.logger.Error().Err(err).Str("channel", channel).Msg("failed to publish bridge frame")
	}
}

func (a *Adapter) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame model.BridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				a.logger.Error().Err(err).Msg("failed to unmarshal bridge frame")
				continue
			}
			if frame.Origin == a.origin {
				continue
			}
			a.apply(frame)
		}
	}
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

func (a *Adapter) detach() {
	for _, s := range a.subs {
		s.Cancel()
	}
	a.subs = nil
}

// Close detaches from the bus and releases the Redis client.
func (a *Adapter) Close() error {
	a.detach()
	if a.pubsub != nil {
		_ = a.pubsub.Close()
	}
	return a.client.Close()
}
