package commands

import (
	"bytes"
	"context"
	"multiroom/internal/chat"
	"multiroom/internal/models"
	"multiroom/internal/presence"
	"multiroom/internal/session"
	"multiroom/internal/ws"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	store    *chat.Store
	joins    []session.JoinRequest
	joinErr  error
	username string
	sent     []string
}

func (f *fakeSession) Join(ctx context.Context, req session.JoinRequest) error {
	f.joins = append(f.joins, req)
	if f.joinErr != nil {
		return f.joinErr
	}
	if f.username == "" {
		f.username = req.Username
	}
	f.store.Track(req.RoomCode)
	f.store.ApplyLifecycle(req.RoomCode, chat.LifecycleOpened)
	return f.store.SelectRoom(req.RoomCode)
}

func (f *fakeSession) Leave(code string) bool {
	_, ok := f.store.Get(code)
	f.store.RemoveRoom(code)
	return ok
}

func (f *fakeSession) SendMessage(text string) bool {
	if f.store.Current() == "" {
		return false
	}
	f.sent = append(f.sent, text)
	return true
}

func (f *fakeSession) SelectRoom(code string) error { return f.store.SelectRoom(code) }
func (f *fakeSession) CurrentRoom() string          { return f.store.Current() }
func (f *fakeSession) Username() string             { return f.username }

type syncBuffer struct {
	mux sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.buf.String()
}

type staticMembers struct{}

func (staticMembers) RoomMembers(ctx context.Context, roomCode string) (models.MembershipSnapshot, error) {
	return models.MembershipSnapshot{
		RoomCode: roomCode,
		Members:  []models.Member{{Username: "alice", Active: true}, {Username: "bob", Active: true}},
		Total:    2,
	}, nil
}

func newTestConsole(opts Options) (*Console, *fakeSession, *syncBuffer) {
	store := chat.NewStore()
	s := &fakeSession{store: store}
	out := &syncBuffer{}
	poller := presence.NewPoller(staticMembers{}, presence.Config{Interval: time.Hour})
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return NewConsole(s, store, poller, out, opts), s, out
}

func TestConsole_SendRequiresRoom(t *testing.T) {
	c, s, out := newTestConsole(Options{Username: "alice"})
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "hello"))
	assert.Contains(t, out.String(), "Not connected to a room")

	require.NoError(t, c.Execute(ctx, "/join ABC123"))
	require.NoError(t, c.Execute(ctx, "  hello there "))

	assert.Equal(t, []string{"hello there"}, s.sent)
	require.Len(t, s.joins, 1)
	assert.Equal(t, "alice", s.joins[0].Username)
	assert.False(t, s.joins[0].PreValidated)
	assert.Contains(t, out.String(), "Joined room ABC123 as alice")
}

func TestConsole_JoinFailureMessage(t *testing.T) {
	c, s, out := newTestConsole(Options{})
	s.joinErr = session.ErrValidationRejected

	require.NoError(t, c.Execute(context.Background(), "/join NOPE bob"))
	assert.Contains(t, out.String(), "Invalid room code. Please check and try again.")

	require.NoError(t, c.Execute(context.Background(), "/join"))
	assert.Contains(t, out.String(), "Please enter a room code.")
}

func TestConsole_LinkAsksForName(t *testing.T) {
	c, s, out := newTestConsole(Options{TrustRoomLinks: true})
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/link http://localhost:5173/?room=ABC123"))
	assert.Contains(t, out.String(), "Enter your username to join room ABC123")
	assert.Empty(t, s.joins)

	require.NoError(t, c.Execute(ctx, "carol"))
	require.Len(t, s.joins, 1)
	assert.Equal(t, session.JoinRequest{RoomCode: "ABC123", Username: "carol", PreValidated: true}, s.joins[0])
	assert.Empty(t, s.sent, "the name must not be sent as a message")
}

func TestConsole_RoomsAndHistory(t *testing.T) {
	c, s, out := newTestConsole(Options{Username: "alice"})
	ctx := context.Background()
	now := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Execute(ctx, "/join A"))
	require.NoError(t, c.Execute(ctx, "/join B"))

	for i := 0; i < 120; i++ {
		s.store.ApplyMessage("A", models.Event{Type: models.EventTypeMessage, Username: "bob", Content: "spam"})
	}
	require.NoError(t, c.Execute(ctx, "/rooms"))
	assert.Contains(t, out.String(), "Rooms (2 joined):")
	assert.Contains(t, out.String(), "(99+) bob: spam")
	assert.Contains(t, out.String(), "* B")

	s.store.ApplyMessage("B", models.Event{
		Type: models.EventTypeMessage, Username: "bob", Content: "<b>yesterday</b>",
		Timestamp: models.Timestamp{Time: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)},
	})
	s.store.ApplyMessage("B", models.Event{
		Type: models.EventTypeMessage, Username: "alice", Content: "today",
		Timestamp: models.Timestamp{Time: time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC)},
	})
	s.store.ApplyMessage("B", models.Event{Type: models.EventTypeUserLeft, Username: "bob", Message: "bob left the chat"})

	require.NoError(t, c.Execute(ctx, "/history"))
	history := out.String()[strings.LastIndex(out.String(), "== B"):]
	assert.Equal(t, strings.Join([]string{
		"== B (open) ==",
		"--- Yesterday ---",
		"[09:30] bob: yesterday",
		"--- Today ---",
		"[08:00] alice (you): today",
		"* bob left the chat",
		"",
	}, "\n"), history)
}

func TestConsole_RoomsRendersPlainPreview(t *testing.T) {
	c, s, out := newTestConsole(Options{Username: "alice"})
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/join A"))
	s.store.ApplyMessage("A", models.Event{Type: models.EventTypeMessage, Username: "bob", Content: "<i>hi</i> & bye"})

	room, _ := s.store.Get("A")
	assert.Equal(t, "bob: <i>hi</i> & bye", room.LastMessagePreview)

	require.NoError(t, c.Execute(ctx, "/rooms"))
	assert.Contains(t, out.String(), "bob: hi & bye")
	assert.NotContains(t, out.String(), "<i>")
}

func TestConsole_LeaveAndShare(t *testing.T) {
	c, _, out := newTestConsole(Options{Username: "alice", LinkBase: "http://localhost:5173/"})
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/share"))
	assert.Contains(t, out.String(), "No room selected.")

	require.NoError(t, c.Execute(ctx, "/join ABC123"))
	require.NoError(t, c.Execute(ctx, "/share"))
	assert.Contains(t, out.String(), "http://localhost:5173/?room=ABC123")

	require.NoError(t, c.Execute(ctx, "/leave"))
	assert.Contains(t, out.String(), "Left room ABC123.")
	assert.Contains(t, out.String(), "No room selected.")

	require.NoError(t, c.Execute(ctx, "/leave ABC123"))
	assert.Contains(t, out.String(), `Not in room "ABC123".`)
}

func TestConsole_Members(t *testing.T) {
	c, _, out := newTestConsole(Options{Username: "alice"})
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/members"))
	assert.Contains(t, out.String(), "No room selected.")

	require.NoError(t, c.Execute(ctx, "/join ABC123"))
	require.NoError(t, c.Execute(ctx, "/members"))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Members of ABC123 (2): alice, bob")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Execute(ctx, "/hide"))
	c.mu.Lock()
	assert.Nil(t, c.members)
	c.mu.Unlock()
	_, cached := c.poller.Snapshot("ABC123")
	assert.False(t, cached)
}

func TestConsole_OnUpdate(t *testing.T) {
	c, _, out := newTestConsole(Options{Username: "alice"})
	require.NoError(t, c.Execute(context.Background(), "/join A"))

	c.OnUpdate(session.Update{RoomCode: "A", Kind: ws.EventMessage, Message: models.Event{Type: models.EventTypeMessage, Username: "bob", Content: "hi"}})
	c.OnUpdate(session.Update{RoomCode: "B", Kind: ws.EventMessage, Message: models.Event{Type: models.EventTypeMessage, Username: "bob", Content: "elsewhere"}})
	c.OnUpdate(session.Update{RoomCode: "A", Kind: ws.EventClosed, Err: session.ErrConnectionLost})

	assert.Contains(t, out.String(), "bob: hi")
	assert.NotContains(t, out.String(), "elsewhere")
	assert.Contains(t, out.String(), "[A] Disconnected from the room")
}

func TestConsole_RunQuits(t *testing.T) {
	c, s, _ := newTestConsole(Options{Username: "alice"})

	err := c.Run(context.Background(), strings.NewReader("/join A\nhello\n/quit\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, s.sent)
}

func TestConsole_RunEndsWithInput(t *testing.T) {
	c, _, out := newTestConsole(Options{})

	require.NoError(t, c.Run(context.Background(), strings.NewReader("/help\n")))
	assert.Contains(t, out.String(), "/join CODE [NAME]")
}
