package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"roomcast/model"
)

// fakeTransport records everything sent to one connection.
type fakeTransport struct {
	mx     sync.Mutex
	sent   [][]byte
	closed bool
}

func (t *fakeTransport) Send(b []byte) error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	t.sent = append(t.sent, cp)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mx.Lock()
	defer t.mx.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) lastEnvelope(tb testing.TB) model.Envelope {
	tb.Helper()
	t.mx.Lock()
	defer t.mx.Unlock()
	if len(t.sent) == 0 {
		tb.Fatal("no payload was sent")
	}
	var env model.Envelope
	if err := json.Unmarshal(t.sent[len(t.sent)-1], &env); err != nil {
		tb.Fatalf("sent payload is not an envelope: %v", err)
	}
	return env
}

func newTestRegistry() *Registry {
	logger := zerolog.Nop()
	return NewRegistry(&logger)
}

func newTestConnection(reg *Registry) (*Connection, *fakeTransport) {
	logger := zerolog.Nop()
	tr := &fakeTransport{}
	return NewConnection(tr, reg, &logger), tr
}

// checkSymmetry verifies membership invariant in both directions for every
// given connection.
func checkSymmetry(t *testing.T, r *Room, conns ...*Connection) {
	t.Helper()
	for _, c := range conns {
		inRoom := r.Member(c.ID())
		hasRef := c.InRoom(r.Name())
		if inRoom != hasRef {
			t.Fatalf("membership asymmetry for %s in %q: room=%v conn=%v\nroom members: %s\nconn rooms: %s",
				c.ID(), r.Name(), inRoom, hasRef, spew.Sdump(r.Members()), spew.Sdump(c.Rooms()))
		}
	}
}
