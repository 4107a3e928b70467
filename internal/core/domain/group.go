package domain

import "time"

// MembershipRecord binds one user to one group through exactly one connection.
type MembershipRecord struct {
	GroupID  string
	UserID   string
	Conn     ConnectionRef
	JoinedAt time.Time
}

// JoinResult is what the directory reports after an upsert.
type JoinResult struct {
	Record MembershipRecord
	// PriorOwner is set when the user was already a member through a
	// different connection; that connection no longer represents them.
	PriorOwner *ConnectionRef
	Count      int64
}

// Departure describes one membership removed while tearing down a connection.
type Departure struct {
	GroupID   string
	UserID    string
	Remaining int64
}

// GroupSnapshot is derived on demand and never cached.
type GroupSnapshot struct {
	GroupID        string `json:"groupId"`
	ActiveMembers  int64  `json:"activeMembers"`
	ActiveSessions int    `json:"activeSessions"`
}
