package websocket

import (
	"errors"
	"sync"

	"roomcast/hub"
)

const (
	defaultSendBuffer = 64
)

// wsTransport bridges hub.Transport onto a gorilla connection. Payloads are
// queued on the send channel and drained by the server's writer pump, so the
// core never blocks on a slow socket.
type wsTransport struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSTransport() *wsTransport {
	return &wsTransport{
		send: make(chan []byte, defaultSendBuffer),
		done: make(chan struct{}),
	}
}

// Send never blocks: a peer that has not drained its buffer is dead, and
// failing it fast keeps fan-out latency bounded for every other recipient.
func (t *wsTransport) Send(b []byte) error {
	select {
	case <-t.done:
		return hub.ErrTransportClosed
	default:
	}
	select {
	case t.send <- b:
		return nil
	case <-t.done:
		return hub.ErrTransportClosed
	default:
		return errors.Join(hub.ErrTransportClosed, errors.New("send buffer saturated"))
	}
}

func (t *wsTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
	})
	return nil
}
