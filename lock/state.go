package lock

import "time"

// SessionState is the lock state owned by the Session Authority.
type SessionState struct {
	IsUnlocked   bool      `json:"isUnlocked"`
	LastActivity time.Time `json:"lastActivity"`
}

// Expired reports whether an unlocked session has been idle longer than
// timeout at now. A locked session never expires.
func (s SessionState) Expired(now time.Time, timeout time.Duration) bool {
	return s.IsUnlocked && now.Sub(s.LastActivity) > timeout
}
