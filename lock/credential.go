package lock

import (
	"fmt"
	"unicode/utf8"
)

// MinPasswordLength is the only strength rule enforced on new passwords.
const MinPasswordLength = 8

// ValidatePassword applies the minimum checks to a new password.
func ValidatePassword(password []byte) error {
	if n := utf8.RuneCount(password); n < MinPasswordLength {
		return fmt.Errorf("%w: need at least %d characters, got %d", ErrWeakPassword, MinPasswordLength, n)
	}
	return nil
}
