package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"multiroom/internal/chat"
	"multiroom/internal/models"
	"multiroom/internal/ws"
	"strings"
	"sync"
	"time"
)

const (
	DefaultValidateTimeout = 10 * time.Second
	eventBuffer            = 64
)

// Validator checks that a room code exists before connecting to it.
type Validator interface {
	ValidateRoom(ctx context.Context, roomCode string) (bool, error)
}

// Update describes an event applied to the session. Message is set for
// inbound events, Err when a room's connection was lost.
type Update struct {
	RoomCode string
	Kind     ws.EventKind
	Message  models.Event
	Err      error
}

// Observer is called after every applied event, outside of the
// controller lock.
type Observer func(Update)

type Config struct {
	ValidateTimeout time.Duration
	SendBuffer      int
	Logger          *slog.Logger
}

type JoinRequest struct {
	RoomCode string
	Username string
	// PreValidated skips the validation lookup.
	PreValidated bool
}

type pendingJoin struct {
	username string
	result   chan error
	// previous is the closed room being rejoined, put back if the join fails.
	previous *chat.Room
	replaced *ws.Connection
}

// joinAttempt marks a room whose code is being validated. Leave cancels it.
type joinAttempt struct {
	cancelled bool
}

// Controller owns the connections of a session and folds their events into
// the store. Run must be running for joins to complete.
type Controller struct {
	store     *chat.Store
	validator Validator
	dialer    ws.Dialer
	logger    *slog.Logger
	cfg       Config

	events chan ws.Event

	// ctx bounds every connection of the session, cancelled when Run returns.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	username    string
	connections map[string]*ws.Connection
	pending     map[string]*pendingJoin
	validating  map[string]*joinAttempt
	observer    Observer
}

func New(cfg Config, store *chat.Store, validator Validator, dialer ws.Dialer) *Controller {
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = DefaultValidateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:       store,
		validator:   validator,
		dialer:      dialer,
		logger:      cfg.Logger,
		cfg:         cfg,
		events:      make(chan ws.Event, eventBuffer),
		ctx:         ctx,
		cancel:      cancel,
		connections: make(map[string]*ws.Connection),
		pending:     make(map[string]*pendingJoin),
		validating:  make(map[string]*joinAttempt),
	}
}

// SetObserver registers fn to be told about applied events.
func (c *Controller) SetObserver(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Run applies connection events until ctx is done, then closes every
// connection of the session.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		select {
		case ev := <-c.events:
			c.dispatch(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel()
	for code, conn := range c.connections {
		conn.Close()
		c.store.ApplyLifecycle(code, chat.LifecycleClosed)
	}
	for id, p := range c.pending {
		p.result <- ErrSessionClosed
		delete(c.pending, id)
	}
	c.logger.Info("session closed", "rooms", len(c.connections))
}

// Join connects the session to a room and focuses it. It blocks until the
// handshake resolves or ctx ends; in the latter case the half-open room is
// rolled back. Joining a room that is already open only moves focus.
func (c *Controller) Join(ctx context.Context, req JoinRequest) error {
	code := strings.TrimSpace(req.RoomCode)
	username := strings.TrimSpace(req.Username)

	c.mu.Lock()
	if c.username != "" {
		username = c.username
	}
	if username == "" {
		c.mu.Unlock()
		return ErrEmptyUsername
	}
	if code == "" {
		c.mu.Unlock()
		return ErrEmptyRoomCode
	}

	if conn, ok := c.connections[code]; ok {
		// A failed handshake reads as closed before Run has applied it.
		if _, waiting := c.pending[conn.ID()]; waiting {
			c.mu.Unlock()
			return ErrJoinInProgress
		}
		switch conn.Status() {
		case models.RoomOpen:
			err := c.store.SelectRoom(code)
			c.mu.Unlock()
			c.notify(Update{RoomCode: code})
			return err
		case models.RoomConnecting:
			c.mu.Unlock()
			return ErrJoinInProgress
		}
	}
	if _, ok := c.validating[code]; ok {
		c.mu.Unlock()
		return ErrJoinInProgress
	}
	attempt := &joinAttempt{}
	c.validating[code] = attempt
	c.mu.Unlock()

	if !req.PreValidated {
		if err := c.validate(ctx, code); err != nil {
			c.mu.Lock()
			if c.validating[code] == attempt {
				delete(c.validating, code)
			}
			c.mu.Unlock()
			c.logger.Info("join rejected", "room", code, "error", err)
			return err
		}
	}

	conn, result, err := c.connect(code, username, attempt)
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return c.abandon(conn, result, ctx.Err())
	}
}

func (c *Controller) validate(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ValidateTimeout)
	defer cancel()

	valid, err := c.validator.ValidateRoom(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationUnreachable, err)
	}
	if !valid {
		return fmt.Errorf("%w: %s", ErrValidationRejected, code)
	}
	return nil
}

func (c *Controller) connect(code, username string, attempt *joinAttempt) (*ws.Connection, chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validating[code] == attempt {
		delete(c.validating, code)
	}
	if attempt.cancelled {
		return nil, nil, fmt.Errorf("%w: left %s while validating", ErrConnectFailed, code)
	}
	if c.ctx.Err() != nil {
		return nil, nil, ErrSessionClosed
	}

	p := &pendingJoin{username: username, result: make(chan error, 1)}
	if old, ok := c.connections[code]; ok {
		if stale, waiting := c.pending[old.ID()]; waiting {
			stale.result <- fmt.Errorf("%w: superseded by a new join of %s", ErrConnectFailed, code)
			delete(c.pending, old.ID())
		}
		p.replaced = old
	}
	if prev, ok := c.store.Track(code); ok {
		p.previous = &prev
	}
	conn := ws.Open(c.ctx, c.dialer, code, username, c.events, ws.Options{
		SendBuffer: c.cfg.SendBuffer,
		Logger:     c.logger,
	})
	c.connections[code] = conn
	c.pending[conn.ID()] = p
	result := p.result

	c.logger.Debug("connecting", "room", code, "handle", conn.ID())
	return conn, result, nil
}

// abandon rolls back a join whose caller stopped waiting, unless the
// handshake outcome was applied in the meantime.
func (c *Controller) abandon(conn *ws.Connection, result chan error, cause error) error {
	c.mu.Lock()
	select {
	case err := <-result:
		c.mu.Unlock()
		return err
	default:
	}

	p := c.pending[conn.ID()]
	delete(c.pending, conn.ID())
	code := conn.RoomCode()
	if c.connections[code] == conn {
		conn.Close()
		c.restoreLocked(code, p)
	}
	c.mu.Unlock()

	c.logger.Info("join abandoned", "room", code, "error", cause)
	c.notify(Update{RoomCode: code, Kind: ws.EventClosed})
	return cause
}

// Leave closes the connection of a room and forgets its state. When it was
// the current room, focus moves to another open room. A join still
// validating the code is cancelled.
func (c *Controller) Leave(code string) bool {
	code = strings.TrimSpace(code)

	c.mu.Lock()
	attempt, cancelled := c.validating[code]
	if cancelled {
		attempt.cancelled = true
		delete(c.validating, code)
	}
	conn, ok := c.connections[code]
	if ok {
		delete(c.connections, code)
		if p, waiting := c.pending[conn.ID()]; waiting {
			p.result <- fmt.Errorf("%w: left %s while connecting", ErrConnectFailed, code)
			delete(c.pending, conn.ID())
		}
		conn.Close()
	}
	if c.store.RemoveRoom(code) {
		c.succeedLocked()
	}
	c.mu.Unlock()

	if !ok && !cancelled {
		return false
	}
	c.logger.Info("left room", "room", code, "cancelled_join", cancelled)
	c.notify(Update{RoomCode: code, Kind: ws.EventClosed})
	return true
}

// SendMessage forwards text to the current room. It reports whether the
// message was queued.
func (c *Controller) SendMessage(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	code := c.store.Current()
	if code == "" {
		return false
	}
	conn, ok := c.connections[code]
	if !ok || conn.Status() != models.RoomOpen {
		return false
	}
	if err := conn.Send(text); err != nil {
		c.logger.Warn("send failed", "room", code, "error", err)
		return false
	}
	return true
}

// SelectRoom focuses a joined room and clears its unread counter.
func (c *Controller) SelectRoom(code string) error {
	c.mu.Lock()
	err := c.store.SelectRoom(code)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("select %q: %w", code, err)
	}
	c.notify(Update{RoomCode: code})
	return nil
}

func (c *Controller) CurrentRoom() string {
	return c.store.Current()
}

// Username is the session identity, empty until the first join succeeds.
func (c *Controller) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Status reports the connection state of a room. Rooms not joined are Closed.
func (c *Controller) Status(code string) models.RoomStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.connections[code]; ok {
		return conn.Status()
	}
	return models.RoomClosed
}

func (c *Controller) dispatch(ev ws.Event) {
	update, ok := c.apply(ev)
	if ok {
		c.notify(update)
	}
}

func (c *Controller) apply(ev ws.Event) (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.connections[ev.RoomCode]
	if !ok || conn.ID() != ev.HandleID {
		c.logger.Debug("dropping event of released connection", "room", ev.RoomCode, "handle", ev.HandleID, "kind", ev.Kind)
		return Update{}, false
	}

	update := Update{RoomCode: ev.RoomCode, Kind: ev.Kind}
	switch ev.Kind {
	case ws.EventOpened:
		c.store.ApplyLifecycle(ev.RoomCode, chat.LifecycleOpened)
		_ = c.store.SelectRoom(ev.RoomCode)
		if p, ok := c.pending[ev.HandleID]; ok {
			if c.username == "" {
				c.username = p.username
			}
			p.result <- nil
			delete(c.pending, ev.HandleID)
		}
		c.logger.Info("joined room", "room", ev.RoomCode)

	case ws.EventMessage:
		c.store.ApplyMessage(ev.RoomCode, ev.Message)
		update.Message = ev.Message

	case ws.EventFailed:
		c.rollbackLocked(ev)

	case ws.EventClosed:
		if _, ok := c.pending[ev.HandleID]; ok {
			c.rollbackLocked(ev)
			break
		}
		c.store.ApplyLifecycle(ev.RoomCode, chat.LifecycleClosed)
		if ev.Err != nil {
			update.Err = fmt.Errorf("%w: %s: %v", ErrConnectionLost, ev.RoomCode, ev.Err)
			if c.store.Current() == ev.RoomCode {
				c.succeedLocked()
			}
		}
	}

	return update, true
}

// rollbackLocked undoes a join whose connection never opened and fails the
// caller waiting on it.
func (c *Controller) rollbackLocked(ev ws.Event) {
	p := c.pending[ev.HandleID]
	delete(c.pending, ev.HandleID)
	c.restoreLocked(ev.RoomCode, p)

	cause := ev.Err
	if cause == nil {
		cause = errors.New("connection closed before opening")
	}
	if p != nil {
		p.result <- fmt.Errorf("%w: %v", ErrConnectFailed, cause)
	}
}

// restoreLocked puts a room back the way it was before a failed join: a
// rejoined closed room gets its history and connection back, a new room is
// removed.
func (c *Controller) restoreLocked(code string, p *pendingJoin) {
	if p != nil && p.previous != nil {
		c.store.Restore(*p.previous)
		if p.replaced != nil {
			c.connections[code] = p.replaced
		} else {
			delete(c.connections, code)
		}
		return
	}

	delete(c.connections, code)
	if c.store.RemoveRoom(code) {
		c.succeedLocked()
	}
}

// succeedLocked moves focus to the first open room by code, or clears it.
func (c *Controller) succeedLocked() {
	for _, code := range c.store.OpenRooms() {
		if err := c.store.SelectRoom(code); err == nil {
			return
		}
	}
	c.store.ClearSelection()
}

func (c *Controller) notify(u Update) {
	c.mu.Lock()
	fn := c.observer
	c.mu.Unlock()

	if fn != nil {
		fn(u)
	}
}
