package domain

import "time"

// EventName is the wire name of a server-to-client event.
type EventName string

const (
	EventGroupState        EventName = "group_state"
	EventMemberJoined      EventName = "member_joined"
	EventMemberLeft        EventName = "member_left"
	EventMeditationStarted EventName = "meditation_started"
	EventMeditationEnded   EventName = "meditation_ended"
	EventError             EventName = "error"
	EventPong              EventName = "pong"
)

// Event is any payload the server pushes to clients.
type Event interface {
	Name() EventName
}

type GroupState struct {
	GroupID        string `json:"groupId"`
	ActiveMembers  int64  `json:"activeMembers"`
	ActiveSessions int    `json:"activeSessions"`
}

func (GroupState) Name() EventName { return EventGroupState }

type MemberJoined struct {
	UserID        string `json:"userId"`
	ActiveMembers int64  `json:"activeMembers"`
}

func (MemberJoined) Name() EventName { return EventMemberJoined }

type MemberLeft struct {
	UserID        string `json:"userId"`
	ActiveMembers int64  `json:"activeMembers"`
}

func (MemberLeft) Name() EventName { return EventMemberLeft }

type MeditationStarted struct {
	UserID    string      `json:"userId"`
	SessionID string      `json:"sessionId"`
	Type      SessionType `json:"type"`
	Duration  int         `json:"duration"`
	StartedAt time.Time   `json:"startedAt"`
}

func (MeditationStarted) Name() EventName { return EventMeditationStarted }

// MeditationEnded reports the actual duration, not the planned one.
type MeditationEnded struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Completed bool   `json:"completed"`
	Duration  int    `json:"duration"`
}

func (MeditationEnded) Name() EventName { return EventMeditationEnded }

type ErrorReply struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (ErrorReply) Name() EventName { return EventError }

type Pong struct{}

func (Pong) Name() EventName { return EventPong }

// NewMeditationStarted builds the broadcast for a freshly created session.
func NewMeditationStarted(s *Session) MeditationStarted {
	return MeditationStarted{
		UserID:    s.UserID,
		SessionID: s.ID,
		Type:      s.Type,
		Duration:  s.PlannedDuration,
		StartedAt: s.StartedAt,
	}
}

// NewMeditationEnded builds the broadcast for a session that just ended.
func NewMeditationEnded(s *Session) MeditationEnded {
	ev := MeditationEnded{
		UserID:    s.UserID,
		SessionID: s.ID,
		Completed: s.Completed,
	}
	if s.ActualDuration != nil {
		ev.Duration = *s.ActualDuration
	}
	return ev
}
