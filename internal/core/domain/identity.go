package domain

import (
	"fmt"
	"strings"
)

// Identity is the authenticated actor bound to a connection at handshake time.
// It never changes for the lifetime of that connection.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// ConnectionRef identifies one live connection across the whole deployment:
// the worker process that terminated it plus its process-local id.
type ConnectionRef struct {
	ProcessID    string
	ConnectionID string
}

// String renders the ref as "<process>/<connection>". The directory stores refs
// in this form, so neither part may contain "/" or "|".
func (r ConnectionRef) String() string {
	return r.ProcessID + "/" + r.ConnectionID
}

// IsZero reports whether the ref is unset.
func (r ConnectionRef) IsZero() bool {
	return r.ProcessID == "" && r.ConnectionID == ""
}

// ParseConnectionRef is the inverse of ConnectionRef.String.
func ParseConnectionRef(s string) (ConnectionRef, error) {
	proc, conn, ok := strings.Cut(s, "/")
	if !ok || proc == "" || conn == "" {
		return ConnectionRef{}, fmt.Errorf("malformed connection ref %q", s)
	}
	return ConnectionRef{ProcessID: proc, ConnectionID: conn}, nil
}

// Caller is the origin of a lifecycle event: who sent it and over which connection.
type Caller struct {
	Identity Identity
	Conn     ConnectionRef
}
