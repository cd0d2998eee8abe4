package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/lock"
)

// AttemptUnlock checks input against the stored password. The guard owns
// input and destroys it before returning. A mismatch leaves the page locked
// and sends nothing to the Session Authority.
func (g *Guard) AttemptUnlock(ctx context.Context, input *memguard.LockedBuffer) error {
	defer input.Destroy()

	present, view := g.state()
	if !present {
		return ErrUnlocked
	}
	if view != ViewLock {
		return fmt.Errorf("%w: unlock from %s view", ErrWrongView, view)
	}

	ok, err := g.creds.VerifyPassword(ctx, input.Bytes())
	switch {
	case errors.Is(err, lock.ErrConfigMissing):
		g.switchTo(ViewCreate)
		return err
	case err != nil:
		g.fail("Could not check password, try again")
		return fmt.Errorf("verifying password: %w", err)
	case !ok:
		g.audit.Failure(ctx, audit.EventAuthMismatch, "password mismatch")
		g.fail("Incorrect password")
		return ErrAuthMismatch
	}
	return g.grant(ctx)
}

// SetPassword stores input as the new password from the create or reset
// view, then unlocks. The guard owns input and destroys it.
func (g *Guard) SetPassword(ctx context.Context, input *memguard.LockedBuffer) error {
	defer input.Destroy()

	present, view := g.state()
	if !present {
		return ErrUnlocked
	}
	if view == ViewLock {
		return fmt.Errorf("%w: set password from %s view", ErrWrongView, view)
	}

	if err := lock.ValidatePassword(input.Bytes()); err != nil {
		g.fail(fmt.Sprintf("Password must be at least %d characters", lock.MinPasswordLength))
		return err
	}
	if err := g.creds.SetPassword(ctx, input.Bytes()); err != nil {
		g.fail("Could not save password")
		return fmt.Errorf("saving password: %w", err)
	}
	g.audit.Log(ctx, audit.EventPasswordSet, slog.String("view", view.String()))
	return g.grant(ctx)
}

// grant asks the Authority to unlock and removes the surface. A lock
// broadcast applied while the request was in flight wins.
func (g *Guard) grant(ctx context.Context) error {
	g.mu.Lock()
	locksBefore := g.locks
	g.mu.Unlock()

	if err := g.session.UnlockGranted(ctx); err != nil {
		g.logger.Warn("unlock not confirmed, staying locked", "error", err)
		g.fail("Unlock failed, try again")
		return fmt.Errorf("requesting unlock: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locks != locksBefore {
		g.logger.Info("session locked again during unlock, keeping surface")
		return nil
	}
	g.removeLocked()
	return nil
}

func (g *Guard) state() (bool, View) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.present, g.view
}

func (g *Guard) fail(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.present {
		g.surface.ShowError(msg)
		g.surface.ClearInput()
	}
}
