package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/internal/util"
	"github.com/jmcleod/pagelock/storage"
	"github.com/jmcleod/pagelock/storage/memory"
)

var testParams = util.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}

var errDiskFull = errors.New("disk full")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type flakyRepo struct {
	storage.Repository
	failPuts atomic.Bool
}

func (r *flakyRepo) Put(ctx context.Context, bucket, key string, value []byte) error {
	if r.failPuts.Load() {
		return errDiskFull
	}
	return r.Repository.Put(ctx, bucket, key, value)
}

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recorder) Publish(_ context.Context, ev broadcast.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Event(nil), r.events...)
}

func (r *recorder) locks() int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind == broadcast.KindStateChanged && !ev.IsUnlocked {
			n++
		}
	}
	return n
}

type harness struct {
	authority *Authority
	store     *Store
	repo      *flakyRepo
	clock     *fakeClock
	events    *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:   &flakyRepo{Repository: memory.NewRepository()},
		clock:  newFakeClock(),
		events: &recorder{},
	}
	h.store = NewStore(h.repo, WithArgon2idParams(testParams))
	h.authority = NewAuthority(h.store, h.events,
		WithClock(h.clock.Now),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.authority.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func startedHarness(t *testing.T) *harness {
	h := newHarness(t)
	h.start(t)
	return h
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) unlocked(t *testing.T) bool {
	t.Helper()
	unlocked, err := h.authority.QueryLockStatus(testCtx(t))
	require.NoError(t, err)
	return unlocked
}

func (h *harness) snapshot(t *testing.T) SessionState {
	t.Helper()
	st, err := h.authority.Snapshot(testCtx(t))
	require.NoError(t, err)
	return st
}
