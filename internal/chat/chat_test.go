package chat

import (
	"fmt"
	"multiroom/internal/models"
	"testing"
	"time"
)

func chatEvent(user, text string) models.Event {
	return models.Event{Type: models.EventTypeMessage, Username: user, Content: text}
}

func TestStore_TrackAndOpen(t *testing.T) {
	s := NewStore()
	s.Track("ABC123")

	room, ok := s.Get("ABC123")
	if !ok {
		t.Fatal("tracked room not found")
	}
	if room.Status != models.RoomConnecting {
		t.Errorf("expected connecting, got %s", room.Status)
	}

	s.ApplyLifecycle("ABC123", LifecycleOpened)
	room, _ = s.Get("ABC123")
	if room.Status != models.RoomOpen {
		t.Errorf("expected open, got %s", room.Status)
	}

	// Opened creates unknown rooms.
	s.ApplyLifecycle("NEW", LifecycleOpened)
	if _, ok := s.Get("NEW"); !ok {
		t.Error("Opened did not create room")
	}
}

func TestStore_CloseKeepsHistory(t *testing.T) {
	s := NewStore()
	s.ApplyLifecycle("r1", LifecycleOpened)
	s.ApplyMessage("r1", chatEvent("alice", "hi"))

	for _, l := range []Lifecycle{LifecycleClosed, LifecycleFailed} {
		s.ApplyLifecycle("r1", l)
		room, ok := s.Get("r1")
		if !ok {
			t.Fatalf("%s deleted the room", l)
		}
		if room.Status != models.RoomClosed {
			t.Errorf("%s: expected closed, got %s", l, room.Status)
		}
		if len(room.Messages) != 1 {
			t.Errorf("%s: history lost", l)
		}
	}
}

func TestStore_TrackReturnsPreviousForRestore(t *testing.T) {
	s := NewStore()
	if _, ok := s.Track("r1"); ok {
		t.Fatal("new room reported previous state")
	}
	s.ApplyLifecycle("r1", LifecycleOpened)
	s.ApplyMessage("r1", chatEvent("alice", "hi"))
	s.ApplyLifecycle("r1", LifecycleClosed)

	prev, ok := s.Track("r1")
	if !ok {
		t.Fatal("closed room not returned")
	}
	room, _ := s.Get("r1")
	if room.Status != models.RoomConnecting || len(room.Messages) != 0 {
		t.Errorf("rejoin did not start fresh: %+v", room)
	}

	s.Restore(prev)
	room, _ = s.Get("r1")
	if room.Status != models.RoomClosed {
		t.Errorf("expected closed, got %s", room.Status)
	}
	if len(room.Messages) != 1 || room.LastMessagePreview != "alice: hi" {
		t.Errorf("history not restored: %+v", room)
	}
}

func TestStore_UnreadCountsSinceSelect(t *testing.T) {
	s := NewStore()
	s.ApplyLifecycle("r1", LifecycleOpened)
	s.ApplyLifecycle("r2", LifecycleOpened)
	if err := s.SelectRoom("r1"); err != nil {
		t.Fatal(err)
	}

	for n := 1; n <= 7; n++ {
		s.ApplyMessage("r2", chatEvent("bob", fmt.Sprintf("msg %d", n)))
		room, _ := s.Get("r2")
		if room.UnreadCount != n {
			t.Fatalf("after %d messages expected unread %d, got %d", n, n, room.UnreadCount)
		}
	}

	// Current room never accumulates.
	s.ApplyMessage("r1", chatEvent("bob", "here"))
	room, _ := s.Get("r1")
	if room.UnreadCount != 0 {
		t.Errorf("current room unread = %d", room.UnreadCount)
	}

	if err := s.SelectRoom("r2"); err != nil {
		t.Fatal(err)
	}
	room, _ = s.Get("r2")
	if room.UnreadCount != 0 {
		t.Errorf("SelectRoom did not reset unread, got %d", room.UnreadCount)
	}
	if s.Current() != "r2" {
		t.Errorf("expected current r2, got %q", s.Current())
	}

	s.ApplyMessage("r1", chatEvent("bob", "again"))
	room, _ = s.Get("r1")
	if room.UnreadCount != 1 {
		t.Errorf("expected counting to restart at 1, got %d", room.UnreadCount)
	}
	if s.TotalUnread() != 1 {
		t.Errorf("expected total unread 1, got %d", s.TotalUnread())
	}
}

func TestStore_SelectUnknownRoom(t *testing.T) {
	s := NewStore()
	if err := s.SelectRoom("nope"); err != models.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if s.Current() != "" {
		t.Errorf("focus moved to unknown room")
	}
}

func TestStore_PreviewFollowsLatestEvent(t *testing.T) {
	s := NewStore()
	s.ApplyLifecycle("r1", LifecycleOpened)

	s.ApplyMessage("r1", chatEvent("alice", "hello"))
	room, _ := s.Get("r1")
	if room.LastMessagePreview != "alice: hello" {
		t.Errorf("unexpected preview %q", room.LastMessagePreview)
	}

	s.ApplyMessage("r1", models.Event{Type: models.EventTypeUserLeft, Username: "bob", Message: "bob left the chat"})
	room, _ = s.Get("r1")
	if room.LastMessagePreview != "bob left the chat" {
		t.Errorf("unexpected preview %q", room.LastMessagePreview)
	}
}

func TestStore_RemoveRoom(t *testing.T) {
	s := NewStore()
	s.ApplyLifecycle("r1", LifecycleOpened)
	s.ApplyLifecycle("r2", LifecycleOpened)
	_ = s.SelectRoom("r1")
	s.ApplyMessage("r1", chatEvent("a", "b"))

	if !s.RemoveRoom("r1") {
		t.Error("expected RemoveRoom to report removal of current room")
	}
	if _, ok := s.Get("r1"); ok {
		t.Error("room still present after removal")
	}
	if s.Current() != "" {
		t.Errorf("expected cleared focus, got %q", s.Current())
	}
	if s.RemoveRoom("r2") {
		t.Error("r2 was not current")
	}
	if s.RemoveRoom("missing") {
		t.Error("missing room reported as current")
	}
	if s.ApplyMessage("r1", chatEvent("a", "late")) {
		t.Error("message applied to removed room")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.ApplyLifecycle("r1", LifecycleOpened)
	s.ApplyMessage("r1", chatEvent("alice", "one"))

	room, _ := s.Get("r1")
	room.Messages[0].Content = "changed"
	room.UnreadCount = 42

	again, _ := s.Get("r1")
	if again.Messages[0].Content != "one" {
		t.Error("Get exposed internal message slice")
	}
	if again.UnreadCount != 1 {
		t.Errorf("Get exposed internal state, unread = %d", again.UnreadCount)
	}
}

func TestStore_Rooms(t *testing.T) {
	s := NewStore()
	s.Track("b")
	s.ApplyLifecycle("c", LifecycleOpened)
	s.ApplyLifecycle("a", LifecycleOpened)
	_ = s.SelectRoom("c")

	rooms := s.Rooms()
	if len(rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(rooms))
	}
	for i, code := range []string{"a", "b", "c"} {
		if rooms[i].Code != code {
			t.Errorf("index %d: expected %s, got %s", i, code, rooms[i].Code)
		}
	}
	if !rooms[2].Current {
		t.Error("c not marked current")
	}

	open := s.OpenRooms()
	if len(open) != 2 || open[0] != "a" || open[1] != "c" {
		t.Errorf("unexpected open rooms %v", open)
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	s.ApplyLifecycle("r1", LifecycleOpened)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.ApplyMessage("r1", chatEvent("a", "b"))
		}
	}()

	deadline := time.After(time.Second)
	for {
		select {
		case <-done:
			room, _ := s.Get("r1")
			if len(room.Messages) != 100 {
				t.Errorf("expected 100 messages, got %d", len(room.Messages))
			}
			return
		case <-deadline:
			t.Fatal("writer did not finish")
		default:
			_ = s.Rooms()
			_, _ = s.Get("r1")
		}
	}
}
