package relay

import "testing"

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub(nil)

	hub.Register(1, nil, ConnInfo{UserID: 1})
	if hub.RoomSize(1) != 1 {
		t.Fatalf("expected room to be created")
	}

	// A repeated join announcement must not create a second entry.
	hub.Register(1, nil, ConnInfo{UserID: 1})
	if hub.RoomSize(1) != 1 {
		t.Fatalf("expected repeated register to be a no-op")
	}

	hub.Unregister(1, nil)
	if hub.RoomSize(1) != 0 {
		t.Fatalf("expected room to be removed")
	}
}

func TestHubUnregisterUnknownConn(t *testing.T) {
	hub := NewHub(nil)
	hub.Unregister(7, nil)
	if hub.RoomSize(7) != 0 {
		t.Fatalf("expected no room for unknown user")
	}
}
