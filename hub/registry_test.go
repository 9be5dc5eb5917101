package hub

import (
	"errors"
	"testing"

	"roomcast/model"
)

func TestCreateRoomIdempotent(t *testing.T) {
	reg := newTestRegistry()

	var added []model.RoomEvent
	reg.Bus().On(EventRoomAdded, func(data any) {
		ev, _ := data.(model.RoomEvent)
		added = append(added, ev)
	})

	r1, err := reg.CreateRoom("lobby")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r2, err := reg.CreateRoom("lobby")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if r1 != r2 {
		t.Fatal("second create returned a different room")
	}
	if len(added) != 1 {
		t.Fatalf("room-added fired %d times, want 1", len(added))
	}
	if added[0].Action != model.RoomActionAdd || added[0].Name != "lobby" {
		t.Fatalf("unexpected room event: %+v", added[0])
	}
}

func TestAddRoomIdempotent(t *testing.T) {
	reg := newTestRegistry()

	var added int
	reg.Bus().On(EventRoomAdded, func(any) { added++ })

	room, _ := reg.CreateRoom("lobby")
	if added != 1 {
		t.Fatalf("room-added fired %d times after create, want 1", added)
	}

	if reg.AddRoom(room) {
		t.Fatal("re-adding a registered room reported a registration")
	}
	if added != 1 {
		t.Fatalf("room-added fired %d times after duplicate add, want 1", added)
	}

	// a deleted-but-alive room may register again, emitting once more
	reg.DeleteRoom(room)
	if !reg.AddRoom(room) {
		t.Fatal("re-adding a deleted room was refused")
	}
	if added != 2 {
		t.Fatalf("room-added fired %d times after re-registration, want 2", added)
	}
	if got, err := reg.Resolve("lobby"); err != nil || got != room {
		t.Fatalf("re-registered room does not resolve: %v", err)
	}

	if reg.AddRoom(nil) {
		t.Fatal("nil room was registered")
	}
}

func TestAddRoomRefusesDestroyedRoom(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("doomed")
	room.Destroy()

	if reg.AddRoom(room) {
		t.Fatal("destroyed room was registered")
	}
	if _, err := reg.Resolve("doomed"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("destroyed room resolvable again after AddRoom, err=%v", err)
	}
}

func TestCreateRoomEmptyName(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.CreateRoom(""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestResolveUnknown(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.Resolve("ghost"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("got %v, want ErrUnknownRoom", err)
	}
}

func TestDeleteRoomIdempotent(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("lobby")

	var removed int
	reg.Bus().On(EventRoomRemoved, func(any) { removed++ })

	reg.DeleteRoom(room)
	reg.DeleteRoom(room)

	if removed != 1 {
		t.Fatalf("room-removed fired %d times, want 1", removed)
	}
	if _, err := reg.Resolve("lobby"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatal("deleted room still resolves")
	}
}

func TestRoomsSnapshot(t *testing.T) {
	reg := newTestRegistry()
	_, _ = reg.CreateRoom("a")
	_, _ = reg.CreateRoom("b")

	if got := len(reg.Rooms()); got != 2 {
		t.Fatalf("rooms = %d, want 2", got)
	}
}

func TestNotifyListening(t *testing.T) {
	reg := newTestRegistry()

	var got any
	reg.Bus().On(EventListening, func(data any) { got = data })

	reg.NotifyListening("srv-1")

	if got != "srv-1" {
		t.Fatalf("listening payload = %v, want srv-1", got)
	}
}
