package verify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/pagelock/lock"
	"github.com/jmcleod/pagelock/storage/memory"
)

type fakeSession struct {
	mu      sync.Mutex
	unlocks int
	resets  int
}

func (f *fakeSession) UnlockGranted(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks++
	return nil
}

func (f *fakeSession) ResetAuthorized(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func succeed(id string) Prover {
	return ProverFunc(func(context.Context) (Proof, error) { return Proof{CredentialID: id}, nil })
}

func fail(err error) Prover {
	return ProverFunc(func(context.Context) (Proof, error) { return Proof{}, err })
}

func newTestGate(session Session, settings SettingsStore) *Gate {
	return NewGate(session, settings, WithLogger(slog.New(slog.DiscardHandler)))
}

func TestVerifyUnlock(t *testing.T) {
	session := &fakeSession{}
	g := newTestGate(session, nil)

	require.NoError(t, g.Verify(context.Background(), ReasonUnlock, succeed("cred")))
	assert.Equal(t, 1, session.unlocks)
	assert.Zero(t, session.resets)
}

func TestVerifyResetDoesNotUnlock(t *testing.T) {
	session := &fakeSession{}
	g := newTestGate(session, nil)

	require.NoError(t, g.Verify(context.Background(), ReasonResetPassword, succeed("cred")))
	assert.Equal(t, 1, session.resets)
	assert.Zero(t, session.unlocks)
}

func TestVerifyFailureChangesNothing(t *testing.T) {
	session := &fakeSession{}
	g := newTestGate(session, nil)

	for _, reason := range []Reason{ReasonUnlock, ReasonResetPassword, ReasonEnroll} {
		err := g.Verify(context.Background(), reason, fail(errors.New("user canceled")))
		assert.ErrorIs(t, err, ErrVerificationFailed)
	}
	assert.Zero(t, session.unlocks)
	assert.Zero(t, session.resets)
}

func TestVerifyEnrollRecordsCredential(t *testing.T) {
	ctx := context.Background()
	store := lock.NewStore(memory.NewRepository())
	session := &fakeSession{}
	g := newTestGate(session, store)

	require.NoError(t, g.Verify(ctx, ReasonEnroll, succeed("abc123")))

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.BiometricsEnabled)
	assert.Equal(t, "abc123", settings.CredentialReference)
	assert.Zero(t, session.unlocks)
}

func TestVerifyUnlockRequiresBiometricsEnabled(t *testing.T) {
	ctx := context.Background()
	store := lock.NewStore(memory.NewRepository())
	session := &fakeSession{}
	g := newTestGate(session, store)

	err := g.Verify(ctx, ReasonUnlock, succeed("cred"))
	assert.ErrorIs(t, err, ErrBiometricsDisabled)
	assert.Zero(t, session.unlocks)

	require.NoError(t, g.Verify(ctx, ReasonEnroll, succeed("cred")))
	require.NoError(t, g.Verify(ctx, ReasonUnlock, succeed("cred")))
	assert.Equal(t, 1, session.unlocks)
}

func TestVerifyResetIgnoresBiometricSwitch(t *testing.T) {
	session := &fakeSession{}
	g := newTestGate(session, lock.NewStore(memory.NewRepository()))

	require.NoError(t, g.Verify(context.Background(), ReasonResetPassword, succeed("cred")))
	assert.Equal(t, 1, session.resets)
}

func TestVerifyEnrollWithoutSettings(t *testing.T) {
	g := newTestGate(&fakeSession{}, nil)
	err := g.Verify(context.Background(), ReasonEnroll, succeed("abc"))
	assert.ErrorIs(t, err, ErrUnknownReason)
}

func TestVerifyUnknownReason(t *testing.T) {
	session := &fakeSession{}
	g := newTestGate(session, nil)
	err := g.Verify(context.Background(), Reason("sudo"), succeed("cred"))
	assert.ErrorIs(t, err, ErrUnknownReason)
	assert.Zero(t, session.unlocks)
}

func TestParseReason(t *testing.T) {
	r, err := ParseReason("")
	require.NoError(t, err)
	assert.Equal(t, ReasonUnlock, r)

	r, err = ParseReason("resetPassword")
	require.NoError(t, err)
	assert.Equal(t, ReasonResetPassword, r)

	_, err = ParseReason("reset")
	assert.ErrorIs(t, err, ErrUnknownReason)
}
