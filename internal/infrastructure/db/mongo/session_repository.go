package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
)

const collectionSessions = "meditation_sessions"

// SessionRepository implements ports.SessionStore using MongoDB.
type SessionRepository struct {
	col *mongo.Collection
	now func() time.Time
}

func NewSessionRepository(db *mongo.Database) *SessionRepository {
	return &SessionRepository{col: db.Collection(collectionSessions), now: time.Now}
}

var _ ports.SessionStore = (*SessionRepository)(nil)

type sessionDocument struct {
	ID              string     `bson:"_id"`
	UserID          string     `bson:"user_id"`
	Type            string     `bson:"type"`
	PlannedDuration int        `bson:"planned_duration"`
	ActualDuration  *int       `bson:"actual_duration,omitempty"`
	Completed       bool       `bson:"completed"`
	GroupID         string     `bson:"group_id,omitempty"`
	StartedAt       time.Time  `bson:"started_at"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty"`
}

func (d *sessionDocument) toDomain() *domain.Session {
	s := &domain.Session{
		ID:              d.ID,
		UserID:          d.UserID,
		Type:            domain.SessionType(d.Type),
		PlannedDuration: d.PlannedDuration,
		ActualDuration:  d.ActualDuration,
		Completed:       d.Completed,
		GroupID:         d.GroupID,
		StartedAt:       d.StartedAt.UTC(),
	}
	if d.CompletedAt != nil {
		t := d.CompletedAt.UTC()
		s.CompletedAt = &t
	}
	return s
}

// Create inserts a new, not yet ended session.
func (r *SessionRepository) Create(ctx context.Context, draft domain.SessionDraft) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := sessionDocument{
		ID:              uuid.NewString(),
		UserID:          draft.UserID,
		Type:            string(draft.Type),
		PlannedDuration: draft.PlannedDuration,
		GroupID:         draft.GroupID,
		// Mongo stores milliseconds; truncate so the returned value matches a re-read.
		StartedAt: r.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return doc.toDomain(), nil
}

// Get retrieves a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc sessionDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return doc.toDomain(), nil
}

// Complete ends the session. The completed_at guard makes the update apply at
// most once even when two ends race.
func (r *SessionRepository) Complete(ctx context.Context, id string, outcome domain.SessionOutcome) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "completed_at": nil}
	update := bson.M{"$set": bson.M{
		"actual_duration": outcome.ActualDuration,
		"completed":       outcome.Completed,
		"completed_at":    r.now().UTC().Truncate(time.Millisecond),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc sessionDocument
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	// Nothing matched: tell an unknown id apart from one that already ended.
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return nil, domain.ErrSessionEnded
}

// ListActive returns sessions in the group that have not ended, newest first.
func (r *SessionRepository) ListActive(ctx context.Context, groupID string) ([]*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"group_id": groupID, "completed_at": nil}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []sessionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode active sessions: %w", err)
	}

	out := make([]*domain.Session, len(docs))
	for i := range docs {
		out[i] = docs[i].toDomain()
	}
	return out, nil
}

// EnsureIndexes creates the indexes the lifecycle queries rely on.
func (r *SessionRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "completed_at", Value: 1}}},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}
