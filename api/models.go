package api

import (
	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/lock"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SessionResponse is returned from GET /session.
type SessionResponse struct {
	IsUnlocked bool `json:"isUnlocked"`
}

// SuccessResponse is returned from the session transition endpoints.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// UnlockRequest is the JSON body for POST /session/unlock.
type UnlockRequest struct {
	Grant string `json:"grant"`
}

// CredentialStatusResponse is returned from GET /credential.
type CredentialStatusResponse struct {
	Exists bool `json:"exists"`
}

// PasswordRequest is the JSON body for PUT /credential and
// POST /credential/verify.
type PasswordRequest struct {
	Password string `json:"password"`
}

// VerifyCredentialResponse is returned from POST /credential/verify. Grant
// is set only on a match.
type VerifyCredentialResponse struct {
	Match bool   `json:"match"`
	Grant string `json:"grant,omitempty"`
}

// PutCredentialResponse is returned from PUT /credential. Grant is empty
// when the change locked an unlocked session.
type PutCredentialResponse struct {
	Grant string `json:"grant,omitempty"`
}

// SettingsBody is the JSON body for GET and PUT /settings.
type SettingsBody = lock.Settings

// FinishVerificationResponse is returned from POST /verify/finish.
type FinishVerificationResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// inboundMessage is a message a page sends on the event stream.
type inboundMessage struct {
	Type string `json:"type"`
}

// AuditListResponse is one page of the audit journal, newest first.
type AuditListResponse struct {
	Entries    []audit.Entry  `json:"entries"`
	Pagination PaginationMeta `json:"pagination"`
}
