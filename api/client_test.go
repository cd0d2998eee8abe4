package api_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/pagelock/api"
	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/guard"
	"github.com/jmcleod/pagelock/lock"
)

var (
	_ guard.Session        = (*api.Client)(nil)
	_ guard.Credentials    = (*api.Client)(nil)
	_ broadcast.Subscriber = (*api.Client)(nil)
)

type nopSurface struct {
	mu    sync.Mutex
	views []guard.View
}

func (s *nopSurface) Render(v guard.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, v)
}
func (s *nopSurface) SwitchView(v guard.View) { s.Render(v) }
func (s *nopSurface) Remove()                 {}
func (s *nopSurface) ShowError(string)        {}
func (s *nopSurface) ClearInput()             {}
func (s *nopSurface) OfferBiometric()         {}

func TestGuardOverClient(t *testing.T) {
	s := setupServer(t)
	s.withPassword(t, "open sesame")
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	g := guard.New(s.client, s.client, &nopSurface{})
	require.NoError(t, g.Start(ctx))
	go g.Watch(ctx, s.client)

	err := g.AttemptUnlock(ctx, memguard.NewBufferFromBytes([]byte("wrong pass")))
	assert.ErrorIs(t, err, guard.ErrAuthMismatch)

	require.NoError(t, g.AttemptUnlock(ctx, memguard.NewBufferFromBytes([]byte("open sesame"))))
	assert.False(t, g.Locked())
	unlocked, err := s.authority.QueryLockStatus(ctx)
	require.NoError(t, err)
	assert.True(t, unlocked)

	require.NoError(t, s.authority.LockRequested(ctx))
	assert.Eventually(t, g.Locked, 2*time.Second, 5*time.Millisecond)
}

func TestClientReportsUnreachableServer(t *testing.T) {
	c := api.NewClient("http://127.0.0.1:1/api/v1", api.WithHTTPClient(&http.Client{Timeout: time.Second}))

	_, err := c.QueryLockStatus(t.Context())
	assert.ErrorIs(t, err, lock.ErrNoResponse)

	_, err = c.Subscribe(t.Context())
	assert.ErrorIs(t, err, lock.ErrNoResponse)
}

func TestClientStatusError(t *testing.T) {
	s := setupServer(t)
	c := api.NewClient(s.srv.URL + "/nowhere")

	_, err := c.QueryLockStatus(t.Context())
	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}
