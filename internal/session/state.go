package session

import (
	"time"
)

// Flash levels used by the gate and by page handlers.
const (
	FlashInfo    = "info"
	FlashWarning = "warning"
	FlashError   = "error"
)

// Flash is a one-shot user-visible notice queued in session state.
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// State is the per-session record. All fields are optional; the zero value is
// a valid anonymous session. A flush replaces the whole record atomically with
// the zero value rather than clearing fields one by one.
type State struct {
	// UserID identifies the authenticated principal. Zero means anonymous.
	UserID int64 `json:"user_id,omitempty"`

	// Role is a coarse role tag forwarded to downstream handlers. The gate
	// itself does not interpret it.
	Role string `json:"role,omitempty"`

	// LastActivity is the Unix timestamp of the last request that passed the
	// gate. Zero means the freshness marker was never set.
	LastActivity int64 `json:"last_activity,omitempty"`

	// CurrentPage is the last path the gate allowed a full page request to.
	CurrentPage string `json:"current_page,omitempty"`

	// PendingUserID identifies a user mid-way through a verification flow,
	// distinct from a fully authenticated UserID.
	PendingUserID int64 `json:"pending_user_id,omitempty"`

	// Flashes holds queued notices, drained by the next rendered page.
	Flashes []Flash `json:"flashes,omitempty"`
}

// IsAuthenticated reports whether the session carries a live user identity.
func (s State) IsAuthenticated() bool {
	return s.UserID != 0
}

// IsPendingVerification reports whether the session is mid-verification.
// UserID takes precedence once set.
func (s State) IsPendingVerification() bool {
	return s.UserID == 0 && s.PendingUserID != 0
}

// IsZero reports whether the record holds no state worth persisting.
func (s State) IsZero() bool {
	return s.UserID == 0 && s.Role == "" && s.LastActivity == 0 &&
		s.CurrentPage == "" && s.PendingUserID == 0 && len(s.Flashes) == 0
}

// Authenticate promotes the session to a fully authenticated one.
// Any pending verification identity is superseded.
func (s *State) Authenticate(userID int64, role string) {
	s.UserID = userID
	s.Role = role
	s.PendingUserID = 0
	s.LastActivity = time.Now().Unix()
}

// StartVerification records a mid-verification identity without
// authenticating the session.
func (s *State) StartVerification(userID int64) {
	s.PendingUserID = userID
}

// Touch refreshes the freshness marker.
func (s *State) Touch(now time.Time) {
	s.LastActivity = now.Unix()
}

// IdleFor returns how long the session has been idle at the given time.
// Returns false if the freshness marker was never set.
func (s State) IdleFor(now time.Time) (time.Duration, bool) {
	if s.LastActivity == 0 {
		return 0, false
	}
	return now.Sub(time.Unix(s.LastActivity, 0)), true
}

// PushFlash queues a notice for the next rendered page.
func (s *State) PushFlash(level, message string) {
	s.Flashes = append(s.Flashes, Flash{Level: level, Message: message})
}

// HasFlashes reports whether any notice is already queued.
func (s State) HasFlashes() bool {
	return len(s.Flashes) > 0
}

// DrainFlashes returns queued notices and clears the queue.
func (s *State) DrainFlashes() []Flash {
	f := s.Flashes
	s.Flashes = nil
	return f
}
