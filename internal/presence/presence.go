package presence

import (
	"context"
	"log/slog"
	"multiroom/internal/models"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// MembershipClient queries the members of a room.
type MembershipClient interface {
	RoomMembers(ctx context.Context, roomCode string) (models.MembershipSnapshot, error)
}

type entry struct {
	seq      uint64
	snapshot models.MembershipSnapshot
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Poller keeps the latest membership snapshot of rooms whose members view
// is open. Snapshots replace each other, a response is only stored when it
// was issued after the one already cached.
type Poller struct {
	client   MembershipClient
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	seq   atomic.Uint64
	cache *geche.Locker[string, entry]
}

func NewPoller(client MembershipClient, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		client:   client,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		cache:    geche.NewLocker[string, entry](geche.NewMapCache[string, entry]()),
	}
}

// Snapshot returns the cached membership of roomCode.
func (p *Poller) Snapshot(roomCode string) (models.MembershipSnapshot, bool) {
	tx := p.cache.RLock()
	defer tx.Unlock()

	e, err := tx.Get(roomCode)
	if err != nil {
		return models.MembershipSnapshot{}, false
	}
	return e.snapshot, true
}

// Forget drops the cached snapshot of roomCode.
func (p *Poller) Forget(roomCode string) {
	tx := p.cache.Lock()
	defer tx.Unlock()
	_ = tx.Del(roomCode)
}

// Subscription polls one room until stopped.
type Subscription struct {
	ID       string
	RoomCode string

	poller  *Poller
	ctx     context.Context
	cancel  context.CancelFunc
	updates chan models.MembershipSnapshot
	done    chan struct{}
	stop    sync.Once
}

// Start queries roomCode right away and then on every interval until the
// subscription is stopped or ctx ends.
func (p *Poller) Start(ctx context.Context, roomCode string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ID:       uuid.NewString(),
		RoomCode: roomCode,
		poller:   p,
		ctx:      ctx,
		cancel:   cancel,
		updates:  make(chan models.MembershipSnapshot, 1),
		done:     make(chan struct{}),
	}

	go s.loop()

	return s
}

// Updates delivers accepted snapshots. Only the latest undelivered one is kept.
func (s *Subscription) Updates() <-chan models.MembershipSnapshot {
	return s.updates
}

// Done is closed once polling has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stop ends polling. Queries already in flight are left to finish but
// their results are discarded.
func (s *Subscription) Stop() {
	s.stop.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Subscription) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.poller.interval)
	defer ticker.Stop()

	s.query()
	for {
		select {
		case <-ticker.C:
			s.query()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Subscription) query() {
	seq := s.poller.seq.Add(1)

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.poller.timeout)
		defer cancel()

		snapshot, err := s.poller.client.RoomMembers(ctx, s.RoomCode)
		if err != nil {
			if s.ctx.Err() == nil {
				s.poller.logger.Warn("membership query failed", "room", s.RoomCode, "error", err)
			}
			return
		}
		s.apply(seq, snapshot)
	}()
}

// apply stores snapshot if the subscription is live and seq is newer than
// the cached entry.
func (s *Subscription) apply(seq uint64, snapshot models.MembershipSnapshot) bool {
	tx := s.poller.cache.Lock()
	defer tx.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	if cur, err := tx.Get(s.RoomCode); err == nil && cur.seq >= seq {
		s.poller.logger.Debug("discarding stale membership snapshot", "room", s.RoomCode, "seq", seq, "current", cur.seq)
		return false
	}
	tx.Set(s.RoomCode, entry{seq: seq, snapshot: snapshot})

	select {
	case <-s.updates:
	default:
	}
	s.updates <- snapshot
	return true
}
