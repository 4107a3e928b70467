package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
)

const sessionColumns = `id, user_id, type, planned_duration, actual_duration, completed, group_id, started_at, completed_at`

// SessionRepository implements ports.SessionStore on PostgreSQL.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ ports.SessionStore = (*SessionRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s           domain.Session
		typ         string
		actual      sql.NullInt32
		groupID     sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &typ, &s.PlannedDuration, &actual, &s.Completed, &groupID, &s.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	s.Type = domain.SessionType(typ)
	s.GroupID = groupID.String
	s.StartedAt = s.StartedAt.UTC()
	if actual.Valid {
		v := int(actual.Int32)
		s.ActualDuration = &v
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		s.CompletedAt = &t
	}
	return &s, nil
}

func nullableGroup(groupID string) sql.NullString {
	return sql.NullString{String: groupID, Valid: groupID != ""}
}

// Create inserts a new session. started_at comes from the database clock.
func (r *SessionRepository) Create(ctx context.Context, draft domain.SessionDraft) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO meditation_sessions (id, user_id, type, planned_duration, group_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+sessionColumns,
		uuid.NewString(), draft.UserID, string(draft.Type), draft.PlannedDuration, nullableGroup(draft.GroupID),
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// Get retrieves a session by id. Ids that are not UUIDs cannot exist.
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrSessionNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM meditation_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}

// Complete ends the session at most once: the update only matches rows whose
// completed_at is still null.
func (r *SessionRepository) Complete(ctx context.Context, id string, outcome domain.SessionOutcome) (*domain.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrSessionNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`UPDATE meditation_sessions
		    SET actual_duration = $2, completed = $3, completed_at = NOW()
		  WHERE id = $1 AND completed_at IS NULL
		 RETURNING `+sessionColumns,
		id, outcome.ActualDuration, outcome.Completed,
	)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM meditation_sessions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return nil, domain.ErrSessionEnded
}

// ListActive returns the group's sessions that have not ended, newest first.
func (r *SessionRepository) ListActive(ctx context.Context, groupID string) ([]*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		   FROM meditation_sessions
		  WHERE group_id = $1 AND completed_at IS NULL
		  ORDER BY started_at DESC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return out, nil
}
