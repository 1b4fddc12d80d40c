package models

import "time"

// SessionState is the authorization state of a schedule session.
type SessionState string

const (
	SessionUninitialized SessionState = "UNINITIALIZED"
	SessionAuthorized    SessionState = "AUTHORIZED"
	SessionUnauthorized  SessionState = "UNAUTHORIZED"
	SessionLoggedOut     SessionState = "LOGGED_OUT"
)

// AuthMode records how the session obtained its credential.
type AuthMode string

const (
	AuthModeNone        AuthMode = ""
	AuthModeInteractive AuthMode = "interactive"
	AuthModeStoredToken AuthMode = "stored_token"
	AuthModeExternal    AuthMode = "external_session"
)

// Alert is a user-visible transient message.
type Alert struct {
	Message string    `json:"message"`
	Fading  bool      `json:"fading"`
	SetAt   time.Time `json:"setAt"`
}

// ScheduleSnapshot is the externally visible view of a schedule session.
type ScheduleSnapshot struct {
	SessionID  string          `json:"sessionId"`
	State      SessionState    `json:"state"`
	Mode       AuthMode        `json:"mode,omitempty"`
	Loading    bool            `json:"loading"`
	Alert      *Alert          `json:"alert,omitempty"`
	Events     []CalendarEvent `json:"events"`
	Generation uint64          `json:"generation"`
	Range      *DateRangeView  `json:"range,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// DateRangeView echoes the range an event list was fetched for.
type DateRangeView struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}
