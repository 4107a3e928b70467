package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
)

// Coordinator implements ports.GroupCoordinator. It holds no membership state
// of its own: the directory is the single source of truth and the broadcaster
// only routes frames.
type Coordinator struct {
	dir         ports.MembershipDirectory
	store       ports.SessionStore
	invalidator ports.CacheInvalidator
	bc          ports.Broadcaster
	log         zerolog.Logger
}

func NewCoordinator(
	dir ports.MembershipDirectory,
	store ports.SessionStore,
	invalidator ports.CacheInvalidator,
	bc ports.Broadcaster,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		dir:         dir,
		store:       store,
		invalidator: invalidator,
		bc:          bc,
		log:         log,
	}
}

var _ ports.GroupCoordinator = (*Coordinator)(nil)

// Join makes the caller's connection the one representing its user in the
// group. A previous connection of the same user is evicted.
func (c *Coordinator) Join(ctx context.Context, caller domain.Caller, groupID string) (*domain.GroupSnapshot, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: groupId is required", domain.ErrValidation)
	}
	userID := caller.Identity.UserID

	// Attach first so a broadcast racing with the directory write still reaches us.
	// A failed re-join keeps the existing route: the record it serves is intact.
	added := c.bc.Attach(caller.Conn, groupID)

	res, err := c.dir.Join(ctx, groupID, userID, caller.Conn)
	if err != nil {
		if added {
			c.bc.Detach(caller.Conn, groupID)
		}
		c.log.Error().Err(err).
			Str("user_id", userID).
			Str("group_id", groupID).
			Msg("join failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrDirectory, err)
	}

	if res.PriorOwner != nil && *res.PriorOwner != caller.Conn {
		c.bc.Evict(ctx, *res.PriorOwner, groupID)
		c.log.Info().
			Str("user_id", userID).
			Str("group_id", groupID).
			Str("conn", caller.Conn.String()).
			Str("prior_conn", res.PriorOwner.String()).
			Msg("membership moved to new connection")
	}

	snap := &domain.GroupSnapshot{GroupID: groupID, ActiveMembers: res.Count}
	active, err := c.store.ListActive(ctx, groupID)
	if err != nil {
		c.log.Warn().Err(err).Str("group_id", groupID).Msg("active sessions unavailable for snapshot")
	} else {
		snap.ActiveSessions = len(active)
	}

	c.bc.Broadcast(ctx, groupID, caller.Conn, domain.MemberJoined{
		UserID:        userID,
		ActiveMembers: res.Count,
	})

	c.log.Info().
		Str("user_id", userID).
		Str("group_id", groupID).
		Int64("active_members", res.Count).
		Msg("member joined")
	return snap, nil
}

// Leave removes the caller's membership. A caller whose connection no longer
// owns the record is ignored.
func (c *Coordinator) Leave(ctx context.Context, caller domain.Caller, groupID string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return fmt.Errorf("%w: groupId is required", domain.ErrValidation)
	}
	userID := caller.Identity.UserID

	removed, remaining, err := c.dir.Leave(ctx, groupID, userID, caller.Conn)
	if err != nil {
		c.log.Error().Err(err).
			Str("user_id", userID).
			Str("group_id", groupID).
			Msg("leave failed")
		return fmt.Errorf("%w: %w", domain.ErrDirectory, err)
	}
	c.bc.Detach(caller.Conn, groupID)

	if !removed {
		c.log.Debug().
			Str("user_id", userID).
			Str("group_id", groupID).
			Str("conn", caller.Conn.String()).
			Msg("leave ignored, connection does not own membership")
		return nil
	}

	c.bc.Broadcast(ctx, groupID, caller.Conn, domain.MemberLeft{
		UserID:        userID,
		ActiveMembers: remaining,
	})
	c.log.Info().
		Str("user_id", userID).
		Str("group_id", groupID).
		Int64("active_members", remaining).
		Msg("member left")
	return nil
}

// Start creates a session and announces it to the group after the store commits.
func (c *Coordinator) Start(ctx context.Context, caller domain.Caller, in ports.StartInput) (*domain.Session, error) {
	typ := domain.SessionType(in.Type)
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown meditation type %q", domain.ErrValidation, in.Type)
	}
	if in.Duration < domain.MinPlannedDuration || in.Duration > domain.MaxPlannedDuration {
		return nil, fmt.Errorf("%w: duration must be between %d and %d minutes",
			domain.ErrValidation, domain.MinPlannedDuration, domain.MaxPlannedDuration)
	}
	userID := caller.Identity.UserID
	groupID := strings.TrimSpace(in.GroupID)

	session, err := c.store.Create(ctx, domain.SessionDraft{
		UserID:          userID,
		Type:            typ,
		PlannedDuration: in.Duration,
		GroupID:         groupID,
	})
	if err != nil {
		c.log.Error().Err(err).
			Str("user_id", userID).
			Str("group_id", groupID).
			Msg("session create failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	c.invalidate(ctx, userID)

	if session.GroupID != "" {
		c.bc.Broadcast(ctx, session.GroupID, caller.Conn, domain.NewMeditationStarted(session))
	}

	c.log.Info().
		Str("user_id", userID).
		Str("group_id", session.GroupID).
		Str("session_id", session.ID).
		Str("type", string(session.Type)).
		Int("duration", session.PlannedDuration).
		Msg("meditation started")
	return session, nil
}

// End records the outcome of a session owned by the caller. A session ends
// at most once.
func (c *Coordinator) End(ctx context.Context, caller domain.Caller, in ports.EndInput) (*domain.Session, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", domain.ErrValidation)
	}
	if in.ActualDuration < 0 || in.ActualDuration > domain.MaxActualDuration {
		return nil, fmt.Errorf("%w: actualDuration must be between 0 and %d minutes",
			domain.ErrValidation, domain.MaxActualDuration)
	}
	userID := caller.Identity.UserID

	current, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, c.storeError(err, "session lookup failed", userID, sessionID)
	}
	if current.UserID != userID {
		c.log.Warn().
			Str("user_id", userID).
			Str("session_id", sessionID).
			Msg("end rejected, session owned by another user")
		return nil, domain.ErrUnauthorized
	}
	if current.Ended() {
		return nil, domain.ErrSessionEnded
	}

	session, err := c.store.Complete(ctx, sessionID, domain.SessionOutcome{
		ActualDuration: in.ActualDuration,
		Completed:      in.Completed,
	})
	if err != nil {
		return nil, c.storeError(err, "session complete failed", userID, sessionID)
	}

	c.invalidate(ctx, userID)

	if session.GroupID != "" {
		c.bc.Broadcast(ctx, session.GroupID, caller.Conn, domain.NewMeditationEnded(session))
	}

	c.log.Info().
		Str("user_id", userID).
		Str("group_id", session.GroupID).
		Str("session_id", session.ID).
		Bool("completed", session.Completed).
		Msg("meditation ended")
	return session, nil
}

// Disconnect removes every membership the connection still owns. Cleanup
// failures are logged; the connection is gone either way.
func (c *Coordinator) Disconnect(ctx context.Context, caller domain.Caller) {
	departures, err := c.dir.RemoveAllFor(ctx, caller.Conn)
	if err != nil {
		c.log.Error().Err(err).
			Str("user_id", caller.Identity.UserID).
			Str("conn", caller.Conn.String()).
			Msg("disconnect cleanup failed")
		return
	}
	c.announceDepartures(ctx, caller.Conn, departures)
}

// Snapshot derives the current view of a group from the directory and the store.
func (c *Coordinator) Snapshot(ctx context.Context, groupID string) (*domain.GroupSnapshot, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: groupId is required", domain.ErrValidation)
	}

	count, err := c.dir.Count(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDirectory, err)
	}
	active, err := c.store.ListActive(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return &domain.GroupSnapshot{
		GroupID:        groupID,
		ActiveMembers:  count,
		ActiveSessions: len(active),
	}, nil
}

// ReapStale clears memberships left behind by processes that stopped
// heartbeating and returns how many connections were reclaimed.
func (c *Coordinator) ReapStale(ctx context.Context) (int, error) {
	stale, err := c.dir.StaleConnections(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrDirectory, err)
	}

	reaped := 0
	for _, ref := range stale {
		departures, err := c.dir.RemoveAllFor(ctx, ref)
		if err != nil {
			c.log.Error().Err(err).Str("conn", ref.String()).Msg("reap failed")
			continue
		}
		reaped++
		c.announceDepartures(ctx, ref, departures)
	}
	if reaped > 0 {
		c.log.Info().Int("connections", reaped).Msg("reaped stale connections")
	}
	return reaped, nil
}

func (c *Coordinator) announceDepartures(ctx context.Context, conn domain.ConnectionRef, departures []domain.Departure) {
	for _, d := range departures {
		c.bc.Detach(conn, d.GroupID)
		c.bc.Broadcast(ctx, d.GroupID, conn, domain.MemberLeft{
			UserID:        d.UserID,
			ActiveMembers: d.Remaining,
		})
		c.log.Info().
			Str("user_id", d.UserID).
			Str("group_id", d.GroupID).
			Str("conn", conn.String()).
			Int64("active_members", d.Remaining).
			Msg("member left on disconnect")
	}
}

func (c *Coordinator) invalidate(ctx context.Context, userID string) {
	if c.invalidator == nil {
		return
	}
	if err := c.invalidator.InvalidateUser(ctx, userID); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("cache invalidation failed")
	}
}

// storeError passes lifecycle outcomes through and classifies everything else
// as a store failure.
func (c *Coordinator) storeError(err error, msg, userID, sessionID string) error {
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionEnded) {
		return err
	}
	c.log.Error().Err(err).
		Str("user_id", userID).
		Str("session_id", sessionID).
		Msg(msg)
	return fmt.Errorf("%w: %w", domain.ErrStore, err)
}
