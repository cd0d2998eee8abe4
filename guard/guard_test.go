package guard

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/internal/util"
	"github.com/jmcleod/pagelock/lock"
	"github.com/jmcleod/pagelock/storage/memory"
)

var testParams = util.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}

type recordingSurface struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSurface) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingSurface) Render(v View)        { s.record("render:" + v.String()) }
func (s *recordingSurface) SwitchView(v View)    { s.record("switch:" + v.String()) }
func (s *recordingSurface) Remove()              { s.record("remove") }
func (s *recordingSurface) ShowError(msg string) { s.record("error") }
func (s *recordingSurface) ClearInput()          { s.record("clear") }
func (s *recordingSurface) OfferBiometric()      { s.record("biometric") }

func (s *recordingSurface) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeSession struct {
	mu         sync.Mutex
	unlocks    int
	heartbeats int
	err        error
	// afterUnlock runs once the unlock is granted, before it returns.
	afterUnlock func()
}

func (f *fakeSession) UnlockGranted(context.Context) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.unlocks++
	after := f.afterUnlock
	f.mu.Unlock()
	if after != nil {
		after()
	}
	return nil
}

func (f *fakeSession) Heartbeat(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
}

func (f *fakeSession) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocks, f.heartbeats
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

func password(s string) *memguard.LockedBuffer {
	return memguard.NewBufferFromBytes([]byte(s))
}

func newStore() *lock.Store {
	return lock.NewStore(memory.NewRepository(), lock.WithArgon2idParams(testParams))
}

func newTestGuard(session Session, creds Credentials, opts ...Option) (*Guard, *recordingSurface) {
	surface := &recordingSurface{}
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(session, creds, surface, opts...), surface
}

func withPassword(t *testing.T, pw string) *lock.Store {
	t.Helper()
	store := newStore()
	require.NoError(t, store.SetPassword(context.Background(), []byte(pw)))
	return store
}

// orderCheckingCreds checks that the surface is up before any store call answers.
type orderCheckingCreds struct {
	*lock.Store
	surface  *recordingSurface
	rendered bool
}

func (p *orderCheckingCreds) HasCredential(ctx context.Context) (bool, error) {
	calls := p.surface.all()
	p.rendered = len(calls) > 0 && calls[0] == "render:lock"
	return p.Store.HasCredential(ctx)
}

func TestStartRendersLockBeforeStoreAnswers(t *testing.T) {
	surface := &recordingSurface{}
	creds := &orderCheckingCreds{Store: withPassword(t, "open sesame"), surface: surface}
	g := New(&fakeSession{}, creds, surface, WithLogger(slog.New(slog.DiscardHandler)))

	require.NoError(t, g.Start(context.Background()))
	assert.True(t, creds.rendered)
	assert.True(t, g.Locked())
	assert.Equal(t, ViewLock, g.View())
}

func TestFirstRunCreatesPasswordAndUnlocks(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	session := &fakeSession{}
	g, surface := newTestGuard(session, store)

	require.NoError(t, g.Start(ctx))
	assert.Equal(t, []string{"render:lock", "switch:create"}, surface.all())

	require.NoError(t, g.SetPassword(ctx, password("first password")))
	assert.False(t, g.Locked())
	unlocks, _ := session.counts()
	assert.Equal(t, 1, unlocks)

	ok, err := store.VerifyPassword(ctx, []byte("first password"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttemptUnlockWithoutCredentialSwitchesToCreate(t *testing.T) {
	ctx := context.Background()
	store := withPassword(t, "open sesame")
	g, surface := newTestGuard(&fakeSession{}, store)
	require.NoError(t, g.Start(ctx))

	// Credential vanishes after start, e.g. reset from another device.
	fresh := newStore()
	g.creds = fresh

	err := g.AttemptUnlock(ctx, password("open sesame"))
	assert.ErrorIs(t, err, lock.ErrConfigMissing)
	assert.Equal(t, ViewCreate, g.View())
	assert.Contains(t, surface.all(), "switch:create")
}

func TestCorrectPasswordUnlocks(t *testing.T) {
	ctx := context.Background()
	session := &fakeSession{}
	g, surface := newTestGuard(session, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	require.NoError(t, g.AttemptUnlock(ctx, password("open sesame")))
	assert.False(t, g.Locked())
	assert.Equal(t, "remove", surface.all()[len(surface.all())-1])
	unlocks, _ := session.counts()
	assert.Equal(t, 1, unlocks)
}

func TestLockDuringUnlockKeepsSurface(t *testing.T) {
	ctx := context.Background()
	session := &fakeSession{}
	g, surface := newTestGuard(session, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	// Another page locks between the unlock being granted and the reply.
	session.afterUnlock = func() {
		g.HandleEvent(broadcast.Event{Kind: broadcast.KindStateChanged, IsUnlocked: true, Epoch: "e1", Seq: 1})
		g.HandleEvent(broadcast.Event{Kind: broadcast.KindStateChanged, IsUnlocked: false, Epoch: "e1", Seq: 2})
	}
	require.NoError(t, g.AttemptUnlock(ctx, password("open sesame")))
	assert.True(t, g.Locked())
	assert.Equal(t, ViewLock, g.View())
	assert.Equal(t, []string{"render:lock", "remove", "render:lock"}, surface.all())
}

func TestLockBeforeUnlockDoesNotBlockIt(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(&fakeSession{}, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	g.HandleEvent(broadcast.Event{Kind: broadcast.KindStateChanged, IsUnlocked: false, Epoch: "e1", Seq: 1})
	require.NoError(t, g.AttemptUnlock(ctx, password("open sesame")))
	assert.False(t, g.Locked())
}

func TestWrongPasswordSendsNothing(t *testing.T) {
	ctx := context.Background()
	session := &fakeSession{}
	g, surface := newTestGuard(session, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	err := g.AttemptUnlock(ctx, password("close sesame"))
	assert.ErrorIs(t, err, ErrAuthMismatch)
	assert.True(t, g.Locked())
	assert.Equal(t, []string{"render:lock", "error", "clear"}, surface.all())
	unlocks, heartbeats := session.counts()
	assert.Zero(t, unlocks)
	assert.Zero(t, heartbeats)
}

func TestInputIsDestroyed(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(&fakeSession{}, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	buf := password("close sesame")
	_ = g.AttemptUnlock(ctx, buf)
	assert.False(t, buf.IsAlive())
}

func TestUnresponsiveAuthorityKeepsPageLocked(t *testing.T) {
	ctx := context.Background()
	session := &fakeSession{err: lock.ErrNoResponse}
	g, surface := newTestGuard(session, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	err := g.AttemptUnlock(ctx, password("open sesame"))
	assert.ErrorIs(t, err, lock.ErrNoResponse)
	assert.True(t, g.Locked())
	assert.NotContains(t, surface.all(), "remove")
}

func TestSetPasswordRules(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(&fakeSession{}, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	err := g.SetPassword(ctx, password("new password"))
	assert.ErrorIs(t, err, ErrWrongView, "lock view cannot set a password")

	g.HandleEvent(broadcast.Event{Kind: broadcast.KindResetAuthorized, Epoch: "e", Seq: 1})
	err = g.SetPassword(ctx, password("short"))
	assert.ErrorIs(t, err, lock.ErrWeakPassword)
	assert.True(t, g.Locked())

	require.NoError(t, g.SetPassword(ctx, password("new password")))
	assert.False(t, g.Locked())
}

func TestBiometricOfferedWhenEnabled(t *testing.T) {
	ctx := context.Background()
	store := withPassword(t, "open sesame")
	_, err := store.UpdateSettings(ctx, func(s *lock.Settings) { s.BiometricsEnabled = true })
	require.NoError(t, err)

	g, surface := newTestGuard(&fakeSession{}, store)
	require.NoError(t, g.Start(ctx))
	assert.Equal(t, []string{"render:lock", "biometric"}, surface.all())
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	g, surface := newTestGuard(&fakeSession{}, withPassword(t, "open sesame"))
	require.NoError(t, g.Start(ctx))

	g.HandleEvent(broadcast.Event{Kind: broadcast.KindStateChanged, IsUnlocked: true, Epoch: "e1", Seq: 2})
	assert.False(t, g.Locked())

	// Delivered late: older than what was already applied.
	g.HandleEvent(broadcast.Event{Kind: broadcast.KindStateChanged, IsUnlocked: false, Epoch: "e1", Seq: 1})
	assert.False(t, g.Locked())

	g.HandleEvent(broadcast.Event{Kind: broadcast.KindStateChanged, IsUnlocked: false, Epoch: "e1", Seq: 3})
	assert.True(t, g.Locked())

	// A restarted authority starts a new epoch with a low sequence.
	g.HandleEvent(broadcast.Event{Kind: broadcast.KindResetAuthorized, Epoch: "e2", Seq: 1})
	assert.Equal(t, ViewReset, g.View())

	assert.Equal(t, []string{"render:lock", "remove", "render:lock", "switch:reset"}, surface.all())
}

func TestActivityIsThrottled(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	session := &fakeSession{}
	g, _ := newTestGuard(session, withPassword(t, "open sesame"),
		WithClock(clock.Now), WithHeartbeatInterval(time.Minute))
	require.NoError(t, g.Start(ctx))

	g.Activity(ctx)
	_, heartbeats := session.counts()
	assert.Zero(t, heartbeats, "locked pages do not heartbeat")

	require.NoError(t, g.AttemptUnlock(ctx, password("open sesame")))
	g.Activity(ctx)
	_, heartbeats = session.counts()
	assert.Zero(t, heartbeats, "first heartbeat waits one interval after start")

	clock.Advance(time.Minute)
	g.Activity(ctx)
	g.Activity(ctx)
	_, heartbeats = session.counts()
	assert.Equal(t, 1, heartbeats)

	clock.Advance(30 * time.Second)
	g.Activity(ctx)
	_, heartbeats = session.counts()
	assert.Equal(t, 1, heartbeats)
}
