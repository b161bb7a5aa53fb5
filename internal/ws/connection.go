package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"multiroom/internal/models"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const defaultSendBuffer = 16

var (
	ErrNotOpen        = errors.New("connection is not open")
	ErrSendBufferFull = errors.New("send buffer is full")
)

// Transport is an established bidirectional connection to one room.
type Transport interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// Dialer opens the transport of a room, authenticating as username.
type Dialer interface {
	Dial(ctx context.Context, roomCode, username string) (Transport, error)
}

type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventMessage
	EventClosed
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is emitted by a Connection. HandleID identifies the emitting
// connection so consumers can drop events of handles they no longer own.
// Err is set on Failed, and on Closed when the close was not requested.
type Event struct {
	RoomCode string
	HandleID string
	Kind     EventKind
	Message  models.Event
	Err      error
}

type Options struct {
	SendBuffer int
	Logger     *slog.Logger
}

// Connection owns the transport of one room. Events are emitted on the sink
// channel from a single goroutine, so per connection order is preserved.
type Connection struct {
	id       string
	roomCode string
	username string
	dialer   Dialer
	sink     chan<- Event
	logger   *slog.Logger

	// parent bounds event delivery, ctx is cancelled by Close.
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	outbox    chan models.OutboundMessage
	status    atomic.Int32
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	transport Transport
}

// Open starts connecting to roomCode and returns at once with a handle in
// Connecting state. The outcome is reported on sink as Opened or Failed.
func Open(
	ctx context.Context,
	dialer Dialer,
	roomCode string,
	username string,
	sink chan<- Event,
	opts Options,
) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		id:       uuid.NewString(),
		roomCode: roomCode,
		username: username,
		dialer:   dialer,
		sink:     sink,
		logger:   opts.Logger.With("room", roomCode),
		parent:   ctx,
		ctx:      connCtx,
		cancel:   cancel,
		outbox:   make(chan models.OutboundMessage, opts.SendBuffer),
		done:     make(chan struct{}),
	}
	c.status.Store(int32(models.RoomConnecting))

	go c.run()

	return c
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) RoomCode() string { return c.roomCode }

func (c *Connection) Status() models.RoomStatus {
	return models.RoomStatus(c.status.Load())
}

// Done is closed once the connection has emitted its final event.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send queues text for the room. It does not wait for the write and only
// guarantees ordering against earlier sends on the same connection.
func (c *Connection) Send(text string) error {
	if c.Status() != models.RoomOpen || c.closing.Load() {
		return ErrNotOpen
	}
	select {
	case c.outbox <- models.OutboundMessage{Content: text}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close releases the transport. It is safe to call more than once and
// while the connection is still dialing.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()

		c.mu.Lock()
		t := c.transport
		c.mu.Unlock()

		if t != nil {
			if err := t.Close(); err != nil {
				c.logger.Debug("transport close failed", "error", err)
			}
		}
	})
}

func (c *Connection) run() {
	defer close(c.done)
	defer c.cancel()

	t, err := c.dialer.Dial(c.ctx, c.roomCode, c.username)
	if err != nil {
		c.status.Store(int32(models.RoomClosed))
		if c.closing.Load() {
			c.emit(Event{Kind: EventClosed})
			return
		}
		c.logger.Warn("connect failed", "error", err)
		c.emit(Event{Kind: EventFailed, Err: err})
		return
	}

	c.mu.Lock()
	if c.closing.Load() {
		c.mu.Unlock()
		_ = t.Close()
		c.status.Store(int32(models.RoomClosed))
		c.emit(Event{Kind: EventClosed})
		return
	}
	c.transport = t
	c.mu.Unlock()

	c.status.Store(int32(models.RoomOpen))
	c.emit(Event{Kind: EventOpened})

	err = c.handle(t)
	c.status.Store(int32(models.RoomClosed))

	ev := Event{Kind: EventClosed}
	if !c.closing.Load() {
		if err == nil {
			err = errors.New("connection closed")
		}
		ev.Err = err
		if IsNormalClose(err) {
			c.logger.Info("server closed connection", "reason", err)
		} else {
			c.logger.Warn("connection lost", "error", err)
		}
	}
	c.emit(ev)
}

func (c *Connection) handle(t Transport) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	errorCh := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Go(func() {
		errorCh <- c.pumpMessages(ctx, t)
		cancel()
	})

	wg.Go(func() {
		errorCh <- c.writeLoop(ctx, t)
		cancel()
	})

	err := <-errorCh
	_ = t.Close()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Connection) pumpMessages(ctx context.Context, t Transport) error {
	for {
		var msg models.Event
		if err := t.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				c.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.emit(Event{Kind: EventMessage, Message: msg})
	}
}

func (c *Connection) writeLoop(ctx context.Context, t Transport) error {
	for {
		select {
		case msg := <-c.outbox:
			if err := t.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) emit(ev Event) {
	ev.RoomCode = c.roomCode
	ev.HandleID = c.id
	select {
	case c.sink <- ev:
	case <-c.parent.Done():
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
