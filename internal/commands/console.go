package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"multiroom/internal/chat"
	"multiroom/internal/content"
	"multiroom/internal/models"
	"multiroom/internal/presence"
	"multiroom/internal/session"
	"multiroom/internal/ws"
	"strings"
	"sync"
	"time"
)

var ErrQuit = errors.New("quit")

// Session is the part of the session controller driven by the console.
type Session interface {
	Join(ctx context.Context, req session.JoinRequest) error
	Leave(code string) bool
	SendMessage(text string) bool
	SelectRoom(code string) error
	CurrentRoom() string
	Username() string
}

type Options struct {
	// Username is used for joins that do not name one.
	Username string
	// LinkBase is the address room links are built on.
	LinkBase       string
	TrustRoomLinks bool
	Location       *time.Location
	Logger         *slog.Logger
}

// Console is a line oriented front end: plain lines are sent to the current
// room, lines starting with a slash are commands.
type Console struct {
	session Session
	store   *chat.Store
	poller  *presence.Poller
	opts    Options
	now     func() time.Time

	outMux sync.Mutex
	out    io.Writer

	mu      sync.Mutex
	members *presence.Subscription
	// awaitingName holds a link join that still needs an identity.
	awaitingName *session.JoinRequest
}

func NewConsole(s Session, store *chat.Store, poller *presence.Poller, out io.Writer, opts Options) *Console {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Console{
		session: s,
		store:   store,
		poller:  poller,
		opts:    opts,
		now:     time.Now,
		out:     out,
	}
}

// Run reads commands from in until it is exhausted, /quit is entered or
// ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.hideMembers()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.printf("Type /help for commands.\n")
	for {
		select {
		case line := <-lines:
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				return err
			}
		case err := <-scanErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Execute handles one input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)

	c.mu.Lock()
	pending := c.awaitingName
	c.awaitingName = nil
	c.mu.Unlock()
	if pending != nil && !strings.HasPrefix(line, "/") {
		pending.Username = line
		c.join(ctx, *pending)
		return nil
	}

	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if !c.session.SendMessage(line) {
			c.printf("Not connected to a room. Use /join CODE first.\n")
		}
		return nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/join":
		if len(args) == 0 {
			c.printf("%s\n", session.UserMessage(session.ErrEmptyRoomCode))
			return nil
		}
		c.join(ctx, session.JoinRequest{RoomCode: args[0], Username: c.username(args[1:])})
	case "/link":
		if len(args) == 0 {
			c.printf("Usage: /link URL [NAME]\n")
			return nil
		}
		c.OpenLink(ctx, args[0], c.username(args[1:]))
	case "/leave":
		code := c.session.CurrentRoom()
		if len(args) > 0 {
			code = args[0]
		}
		if !c.session.Leave(code) {
			c.printf("Not in room %q.\n", code)
			return nil
		}
		c.stopMembersOf(code)
		c.printf("Left room %s.\n", code)
		c.printFocus()
	case "/switch":
		if len(args) == 0 {
			c.printf("Usage: /switch CODE\n")
			return nil
		}
		if err := c.session.SelectRoom(args[0]); err != nil {
			c.printf("Not in room %q.\n", args[0])
			return nil
		}
		c.printHistory(args[0])
	case "/rooms":
		c.printRooms()
	case "/history":
		c.printHistory(c.session.CurrentRoom())
	case "/members":
		code := c.session.CurrentRoom()
		if len(args) > 0 {
			code = args[0]
		}
		if code == "" {
			c.printf("No room selected.\n")
			return nil
		}
		c.showMembers(ctx, code)
	case "/hide":
		c.hideMembers()
	case "/share":
		c.share()
	case "/help":
		c.printf("%s", helpText)
	case "/quit":
		return ErrQuit
	default:
		c.printf("Unknown command %s. Type /help for commands.\n", cmd)
	}
	return nil
}

const helpText = `Commands:
  /join CODE [NAME]   join a room, or switch to it if already joined
  /link URL [NAME]    join the room a shared link points to
  /leave [CODE]       leave a room (current by default)
  /switch CODE        focus a joined room
  /rooms              list joined rooms
  /history            show the current room
  /members [CODE]     follow the members of a room
  /hide               stop following members
  /share              print a link to the current room
  /quit               exit
Anything else is sent to the current room.
`

// OpenLink joins the room referenced by a shared link. Without an identity
// the console asks for one before joining.
func (c *Console) OpenLink(ctx context.Context, link, username string) {
	req, err := session.LinkJoinRequest(link, username, c.opts.TrustRoomLinks)
	if err != nil {
		c.printf("%s\n", session.UserMessage(err))
		return
	}
	if req.Username == "" && c.session.Username() == "" {
		c.mu.Lock()
		c.awaitingName = &req
		c.mu.Unlock()
		c.printf("Enter your username to join room %s:\n", req.RoomCode)
		return
	}
	c.join(ctx, req)
}

// JoinRoom joins code with the configured username.
func (c *Console) JoinRoom(ctx context.Context, code string) {
	c.join(ctx, session.JoinRequest{RoomCode: code, Username: c.opts.Username})
}

func (c *Console) join(ctx context.Context, req session.JoinRequest) {
	if err := c.session.Join(ctx, req); err != nil {
		c.opts.Logger.Debug("join failed", "room", req.RoomCode, "error", err)
		c.printf("%s\n", session.UserMessage(err))
		return
	}
	c.printf("Joined room %s as %s.\n", c.session.CurrentRoom(), c.session.Username())
	c.printHistory(c.session.CurrentRoom())
}

func (c *Console) username(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return c.opts.Username
}

// OnUpdate is the session observer: it echoes traffic of the current room
// and reports lost connections.
func (c *Console) OnUpdate(u session.Update) {
	if u.Err != nil {
		c.printf("[%s] %s\n", u.RoomCode, session.UserMessage(u.Err))
		c.printFocus()
		return
	}
	if u.Kind != ws.EventMessage || u.RoomCode != c.session.CurrentRoom() {
		return
	}
	c.printf("%s\n", c.formatEvent(u.Message))
}

func (c *Console) printFocus() {
	if code := c.session.CurrentRoom(); code != "" {
		c.printf("Current room: %s\n", code)
		return
	}
	c.printf("No room selected. Choose a room with /switch or join a new one.\n")
}

func (c *Console) printRooms() {
	rooms := c.store.Rooms()
	if len(rooms) == 0 {
		c.printf("No rooms joined.\n")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rooms (%d joined):\n", len(rooms))
	for _, r := range rooms {
		marker := " "
		if r.Current {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-10s %-10s", marker, r.Code, r.Status)
		if badge := content.Badge(r.UnreadCount); badge != "" {
			fmt.Fprintf(&b, " (%s)", badge)
		}
		if r.LastMessagePreview != "" {
			fmt.Fprintf(&b, " %s", content.PlainText(r.LastMessagePreview))
		}
		b.WriteString("\n")
	}
	c.printf("%s", b.String())
}

func (c *Console) printHistory(code string) {
	room, ok := c.store.Get(code)
	if !ok {
		c.printFocus()
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "== %s (%s) ==\n", room.Code, room.Status)
	if len(room.Messages) == 0 {
		b.WriteString("No messages yet. Start the conversation!\n")
	}
	for _, item := range chat.GroupByDate(room.Messages, c.opts.Location) {
		switch item.Kind {
		case chat.ItemDateMarker:
			fmt.Fprintf(&b, "--- %s ---\n", chat.DateLabel(item.Date, c.now().In(c.opts.Location)))
		case chat.ItemMessage:
			fmt.Fprintf(&b, "%s\n", c.formatEvent(item.Event))
		}
	}
	c.printf("%s", b.String())
}

func (c *Console) formatEvent(ev models.Event) string {
	switch {
	case ev.IsChat():
		stamp := ""
		if !ev.Timestamp.IsZero() {
			stamp = "[" + ev.Timestamp.In(c.opts.Location).Format("15:04") + "] "
		}
		name := ev.Username
		if name == c.session.Username() {
			name += " (you)"
		}
		return stamp + name + ": " + content.PlainText(ev.Content)
	case ev.IsError():
		return "! " + content.PlainText(ev.Text())
	default:
		return "* " + content.PlainText(ev.Text())
	}
}

func (c *Console) share() {
	code := c.session.CurrentRoom()
	if code == "" {
		c.printf("No room selected.\n")
		return
	}
	link, err := session.RoomLink(c.opts.LinkBase, code)
	if err != nil {
		c.printf("Could not build link: %v\n", err)
		return
	}
	c.printf("Share this link to invite others: %s\n", link)
}

func (c *Console) showMembers(ctx context.Context, code string) {
	c.hideMembers()

	sub := c.poller.Start(ctx, code)
	c.mu.Lock()
	c.members = sub
	c.mu.Unlock()

	c.printf("Following members of %s, /hide to stop.\n", code)
	go func() {
		for {
			select {
			case snapshot := <-sub.Updates():
				c.printf("%s\n", formatMembers(code, snapshot))
			case <-sub.Done():
				return
			}
		}
	}()
}

func (c *Console) hideMembers() {
	c.mu.Lock()
	sub := c.members
	c.members = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Stop()
		c.poller.Forget(sub.RoomCode)
	}
}

func (c *Console) stopMembersOf(code string) {
	c.mu.Lock()
	following := c.members != nil && c.members.RoomCode == code
	c.mu.Unlock()

	if following {
		c.hideMembers()
	}
}

func formatMembers(code string, s models.MembershipSnapshot) string {
	names := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		if m.Active {
			names = append(names, m.Username)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Members of %s (%d): no active members", code, s.Total)
	}
	return fmt.Sprintf("Members of %s (%d): %s", code, s.Total, strings.Join(names, ", "))
}

func (c *Console) printf(format string, args ...any) {
	c.outMux.Lock()
	defer c.outMux.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
