package domain

import "time"

// SessionType is the kind of meditation being practised.
type SessionType string

const (
	SessionGuided   SessionType = "guided"
	SessionUnguided SessionType = "unguided"
	SessionSleep    SessionType = "sleep"
)

// Durations are whole minutes. An actual duration is capped at one day.
const (
	MinPlannedDuration = 1
	MaxPlannedDuration = 120
	MaxActualDuration  = 24 * 60
)

// Valid reports whether t is one of the supported session types.
func (t SessionType) Valid() bool {
	switch t {
	case SessionGuided, SessionUnguided, SessionSleep:
		return true
	}
	return false
}

// Session is the durable record of one meditation. It is created on start and
// mutated exactly once, on end.
type Session struct {
	ID              string      `json:"id"`
	UserID          string      `json:"userId"`
	Type            SessionType `json:"type"`
	PlannedDuration int         `json:"plannedDuration"`
	ActualDuration  *int        `json:"actualDuration,omitempty"`
	Completed       bool        `json:"completed"`
	GroupID         string      `json:"groupId,omitempty"`
	StartedAt       time.Time   `json:"startedAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
}

// Ended reports whether the session reached its terminal state. Completed alone
// is not enough: a session abandoned early ends with Completed=false.
func (s *Session) Ended() bool {
	return s.CompletedAt != nil
}

// SessionDraft carries what the store needs to create a session.
type SessionDraft struct {
	UserID          string
	Type            SessionType
	PlannedDuration int
	GroupID         string
}

// SessionOutcome is applied once when a session ends.
type SessionOutcome struct {
	ActualDuration int
	Completed      bool
}
