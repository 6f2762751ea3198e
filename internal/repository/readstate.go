package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
)

type ReadStateRepository struct {
	pool *pgxpool.Pool
}

func NewReadStateRepository(pool *pgxpool.Pool) *ReadStateRepository {
	return &ReadStateRepository{pool: pool}
}

// MarkRead advances the (ref, channel) read marker to at. Monotonic and
// idempotent: GREATEST keeps the stored marker when at is the same or
// earlier, so a stale client can never regress its own marker.
func (r *ReadStateRepository) MarkRead(ctx context.Context, ref identity.Ref, channelID string, at time.Time) error {
	defer logger.DeferLogDuration("readstate.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO read_states (member_ref, channel_id, last_read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (member_ref, channel_id)
		 DO UPDATE SET last_read_at = GREATEST(read_states.last_read_at, EXCLUDED.last_read_at)`,
		ref, channelID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("readStateRepo.MarkRead: %w", err)
	}
	return nil
}

// UnreadCount counts messages from other senders created strictly after the
// stored marker. A missing row means everything from others is unread.
func (r *ReadStateRepository) UnreadCount(ctx context.Context, ref identity.Ref, channelID string) (int, error) {
	defer logger.DeferLogDuration("readstate.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM messages m
		 LEFT JOIN read_states rs ON rs.channel_id = m.channel_id AND rs.member_ref = $2
		 WHERE m.channel_id = $1
		   AND m.sender_ref != $2
		   AND (rs.member_ref IS NULL OR m.created_at > rs.last_read_at)`,
		channelID, ref,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("readStateRepo.UnreadCount: %w", err)
	}
	return count, nil
}

// UnreadByChannel returns unread counts for every channel ref participates
// in, keyed by the canonical channel id. One query; the badge aggregate and
// the channel list both derive from this map so they can never disagree on
// id shape.
func (r *ReadStateRepository) UnreadByChannel(ctx context.Context, ref identity.Ref) (map[string]int, error) {
	defer logger.DeferLogDuration("readstate.UnreadByChannel", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT cm.channel_id, COUNT(m.id)
		 FROM channel_members cm
		 LEFT JOIN read_states rs ON rs.channel_id = cm.channel_id AND rs.member_ref = cm.member_ref
		 LEFT JOIN messages m ON m.channel_id = cm.channel_id
		      AND m.sender_ref != cm.member_ref
		      AND (rs.member_ref IS NULL OR m.created_at > rs.last_read_at)
		 WHERE cm.member_ref = $1
		 GROUP BY cm.channel_id`, ref,
	)
	if err != nil {
		return nil, fmt.Errorf("readStateRepo.UnreadByChannel query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 16)
	for rows.Next() {
		var channelID string
		var count int
		if err := rows.Scan(&channelID, &count); err != nil {
			return nil, fmt.Errorf("readStateRepo.UnreadByChannel scan: %w", err)
		}
		counts[channelID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("readStateRepo.UnreadByChannel rows: %w", err)
	}
	return counts, nil
}

// TotalUnread sums unread counts across all channels for the badge.
func (r *ReadStateRepository) TotalUnread(ctx context.Context, ref identity.Ref) (int, error) {
	defer logger.DeferLogDuration("readstate.TotalUnread", time.Now())()
	counts, err := r.UnreadByChannel(ctx, ref)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}
