// Package session carries the request metadata of an authenticated call.
//
// A Session is passed explicitly to every service operation. The core never looks
// up the current user or impersonation state from ambient globals.
package session

// Session describes the credential and request an operation runs under
type Session struct {
	// ID identifies the credential in use. Step-up re-authentication is tracked per ID.
	ID string `json:"id,omitempty"`
	// ImpersonatorID is the real user when the acting session is an impersonation.
	ImpersonatorID *int64 `json:"impersonator_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

// IsImpersonation reports whether the session acts on behalf of another user
func (s Session) IsImpersonation() bool {
	return s.ImpersonatorID != nil
}

// System is the session used by background jobs
func System(requestID string) Session {
	return Session{RequestID: requestID}
}
