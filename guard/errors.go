package guard

import "errors"

var (
	// ErrAuthMismatch is returned when the submitted password is wrong.
	ErrAuthMismatch = errors.New("password does not match")
	// ErrWrongView is returned when an action is not offered by the
	// current view, such as setting a password from the lock view.
	ErrWrongView = errors.New("action not available in current view")
	// ErrUnlocked is returned when an action needs a rendered surface.
	ErrUnlocked = errors.New("page is unlocked")
)
