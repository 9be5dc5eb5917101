package hub

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestConnectionSend(t *testing.T) {
	reg := newTestRegistry()
	c, tr := newTestConnection(reg)

	if err := c.Send("hello", map[string]any{"n": float64(1)}); err != nil {
		t.Fatalf("send: %v", err)
	}

	env := tr.lastEnvelope(t)
	if env.Event != "hello" || env.RoomName != "" || env.Data["n"] != float64(1) {
		t.Fatalf("unexpected envelope: %s", spew.Sdump(env))
	}
}

func TestConnectionSendUnserializable(t *testing.T) {
	reg := newTestRegistry()
	c, _ := newTestConnection(reg)

	err := c.Send("hello", map[string]any{"ch": make(chan int)})
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("got %v, want ErrSerialization", err)
	}
}

func TestConnectionSendClosedTransport(t *testing.T) {
	reg := newTestRegistry()
	c, tr := newTestConnection(reg)
	_ = tr.Close()

	if err := c.Send("hello", nil); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("got %v, want ErrTransportClosed", err)
	}
}

func TestConnectionSendRaw(t *testing.T) {
	reg := newTestRegistry()
	c, tr := newTestConnection(reg)

	if err := c.SendRaw(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("nil payload: got %v, want ErrInvalidArgument", err)
	}

	if err := c.SendRaw([]byte("raw")); err != nil {
		t.Fatalf("send raw: %v", err)
	}
	if tr.sentCount() != 1 || string(tr.sent[0]) != "raw" {
		t.Fatal("raw payload was not delivered verbatim")
	}
}

func TestJoinArguments(t *testing.T) {
	reg := newTestRegistry()
	c, _ := newTestConnection(reg)

	if err := c.Join(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("nil room: got %v, want ErrInvalidArgument", err)
	}
	if err := c.JoinName("nope"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("unknown name: got %v, want ErrUnknownRoom", err)
	}
	if err := c.LeaveName("nope"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("unknown name: got %v, want ErrUnknownRoom", err)
	}

	room, _ := reg.CreateRoom("lobby")
	if err := c.JoinName("lobby"); err != nil {
		t.Fatalf("join by name: %v", err)
	}
	if !room.Member(c.ID()) {
		t.Fatal("join by name did not record membership")
	}
	checkSymmetry(t, room, c)
}

func TestCloseLeavesRooms(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("lobby")
	c, tr := newTestConnection(reg)
	if err := c.Join(room); err != nil {
		t.Fatalf("join: %v", err)
	}

	var closes int
	c.On(EventClose, func(any) { closes++ })

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if closes != 1 {
		t.Fatalf("close event fired %d times, want 1", closes)
	}
	if room.Member(c.ID()) || c.InRoom("lobby") {
		t.Fatal("closed connection is still a room member")
	}
	if !tr.closed {
		t.Fatal("transport was not released")
	}

	// closing twice is a no-op
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if closes != 1 {
		t.Fatalf("close event fired %d times after double close", closes)
	}
}

func TestJoinAfterCloseIsNoop(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("lobby")
	c, _ := newTestConnection(reg)
	_ = c.Close()

	room.AddMember(c)

	if room.Len() != 0 {
		t.Fatal("closed connection was admitted to a room")
	}
	checkSymmetry(t, room, c)
}

func TestHandleInboundRawFallback(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("lobby")
	c, _ := newTestConnection(reg)
	_ = c.Join(room)

	var raw []byte
	c.On(EventMessage, func(data any) { raw, _ = data.([]byte) })

	c.HandleInbound([]byte("not json at all"))

	if string(raw) != "not json at all" {
		t.Fatalf("raw fallback got %q", raw)
	}
	if room.Len() != 1 {
		t.Fatal("malformed input mutated room state")
	}
}

func TestHandleInboundLocalDispatch(t *testing.T) {
	reg := newTestRegistry()
	c, tr := newTestConnection(reg)

	var got map[string]any
	c.On("ping", func(data any) { got, _ = data.(map[string]any) })

	c.HandleInbound([]byte(`{"event":"ping","data":{"n":1}}`))

	if got == nil || got["n"] != float64(1) {
		t.Fatalf("local dispatch payload: %s", spew.Sdump(got))
	}
	if tr.sentCount() != 0 {
		t.Fatal("local dispatch must not fan out to the network")
	}
}

func TestHandleInboundLocalDispatchNoData(t *testing.T) {
	reg := newTestRegistry()
	c, _ := newTestConnection(reg)

	var got map[string]any
	c.On("ping", func(data any) { got, _ = data.(map[string]any) })

	c.HandleInbound([]byte(`{"event":"ping"}`))

	if got == nil || len(got) != 0 {
		t.Fatalf("missing data must default to an empty payload, got %s", spew.Sdump(got))
	}
}

// end-to-end room relay: A and B join lobby, A relays an event, B receives
// exactly one stamped copy, A and the non-member C receive nothing.
func TestHandleInboundRoomRelay(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.CreateRoom("lobby")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	a, trA := newTestConnection(reg)
	b, trB := newTestConnection(reg)
	_, trC := newTestConnection(reg)

	if err = a.JoinName("lobby"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err = b.JoinName("lobby"); err != nil {
		t.Fatalf("join b: %v", err)
	}

	a.HandleInbound([]byte(`{"event":"lol","roomName":"lobby","data":{"msg":"hi"}}`))

	if trA.sentCount() != 0 {
		t.Fatalf("sender received its own relay %d times", trA.sentCount())
	}
	if trC.sentCount() != 0 {
		t.Fatalf("non-member received the relay %d times", trC.sentCount())
	}
	if trB.sentCount() != 1 {
		t.Fatalf("member copies = %d, want 1", trB.sentCount())
	}

	env := trB.lastEnvelope(t)
	if env.Event != "lol" || env.RoomName != "lobby" {
		t.Fatalf("unexpected envelope: %s", spew.Sdump(env))
	}
	if env.Data["from"] != a.ID() {
		t.Fatalf("relay was not stamped with the sender id: %s", spew.Sdump(env.Data))
	}
	if env.Data["msg"] != "hi" {
		t.Fatalf("relay lost payload data: %s", spew.Sdump(env.Data))
	}
}

func TestHandleInboundUnjoinedRoomDropped(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("lobby")
	member, trMember := newTestConnection(reg)
	_ = member.Join(room)

	outsider, trOutsider := newTestConnection(reg)

	outsider.HandleInbound([]byte(`{"event":"spoof","roomName":"lobby","data":{}}`))

	if trMember.sentCount() != 0 {
		t.Fatal("spoofed broadcast reached room members")
	}
	if trOutsider.sentCount() != 0 {
		t.Fatal("spoofed broadcast echoed to the outsider")
	}
}

func TestHandleInboundEnvelopeWithoutEvent(t *testing.T) {
	reg := newTestRegistry()
	c, tr := newTestConnection(reg)

	var raws int
	c.On(EventMessage, func(any) { raws++ })

	c.HandleInbound([]byte(`{"data":{"n":1}}`))

	if raws != 0 {
		t.Fatal("decodable envelope surfaced as a raw message")
	}
	if tr.sentCount() != 0 {
		t.Fatal("event-less envelope triggered a send")
	}
}

func TestHandleInboundRelayJSON(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("lobby")
	a, _ := newTestConnection(reg)
	b, trB := newTestConnection(reg)
	_ = a.Join(room)
	_ = b.Join(room)

	a.HandleInbound([]byte(`{"event":"lol","roomName":"lobby"}`))

	var wire map[string]any
	if err := json.Unmarshal(trB.sent[0], &wire); err != nil {
		t.Fatalf("relayed payload is not JSON: %v", err)
	}
	if wire["roomName"] != "lobby" {
		t.Fatalf("relayed payload misses roomName: %s", spew.Sdump(wire))
	}
}
