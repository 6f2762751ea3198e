package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
)

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

// dmKey builds the storage key for the canonical pair. Refs are subjects
// issued by the identity provider and never contain '|'.
func dmKey(p0, p1 identity.Ref) string {
	return string(p0) + "|" + string(p1)
}

// FindOrCreateDirect returns the single DM channel for the unordered pair
// {a, b}, creating it on first contact. Safe under concurrent invocation by
// both participants: the insert relies on the unique index on dm_key, and a
// lost race is recovered by re-reading the winner. Callers never see the
// race; repeated calls with either argument order return the same channel.
func (r *ChannelRepository) FindOrCreateDirect(ctx context.Context, a, b identity.Ref) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.FindOrCreateDirect", time.Now())()
	if a == b {
		return nil, fmt.Errorf("channelRepo.FindOrCreateDirect: self pair %q", a)
	}
	p0, p1 := identity.CanonicalPair(a, b)
	key := dmKey(p0, p1)

	if ch, err := r.getDirectByKey(ctx, key); err == nil {
		return ch, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ch := &model.Channel{
		ID:           uuid.New().String(),
		ChannelType:  model.ChannelTypeDM,
		Participants: []identity.Ref{p0, p1},
		CreatedBy:    a,
		CreatedAt:    time.Now().UTC(),
	}
	inserted, err := r.insertDirect(ctx, ch, key)
	if err != nil {
		return nil, err
	}
	if inserted {
		return ch, nil
	}
	// Race lost: the other participant's insert committed first. The unique
	// index guarantees the winner is the one channel for this pair.
	winner, err := r.getDirectByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.FindOrCreateDirect re-read after conflict: %w", err)
	}
	return winner, nil
}

// insertDirect writes the channel and both memberships in one transaction so
// the channel never becomes visible without its participants. Returns false
// when the unique index rejected the insert (concurrent create won).
func (r *ChannelRepository) insertDirect(ctx context.Context, ch *model.Channel, key string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("channelRepo.insertDirect begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO channels (id, channel_type, name, dm_key, created_by, created_at)
		 VALUES ($1, 'dm', '', $2, $3, $4)
		 ON CONFLICT (dm_key) WHERE channel_type = 'dm' DO NOTHING`,
		ch.ID, key, ch.CreatedBy, ch.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("channelRepo.insertDirect: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	for _, ref := range ch.Participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO channel_members (channel_id, member_ref, joined_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			ch.ID, ref, ch.CreatedAt,
		); err != nil {
			return false, fmt.Errorf("channelRepo.insertDirect member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("channelRepo.insertDirect commit: %w", err)
	}
	return true, nil
}

func (r *ChannelRepository) getDirectByKey(ctx context.Context, key string) (*model.Channel, error) {
	ch := &model.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, channel_type, name, created_by, created_at
		 FROM channels WHERE channel_type = 'dm' AND dm_key = $1`, key,
	).Scan(&ch.ID, &ch.ChannelType, &ch.Name, &ch.CreatedBy, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("channelRepo.getDirectByKey: %w", err)
	}
	refs, err := r.ParticipantRefs(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	ch.Participants = refs
	return ch, nil
}

// CreatePublic provisions a shared room and joins the creator.
func (r *ChannelRepository) CreatePublic(ctx context.Context, name string, createdBy identity.Ref) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.CreatePublic", time.Now())()
	ch := &model.Channel{
		ID:          uuid.New().String(),
		ChannelType: model.ChannelTypePublic,
		Name:        name,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channels (id, channel_type, name, created_by, created_at)
		 VALUES ($1, 'public', $2, $3, $4)`,
		ch.ID, ch.Name, ch.CreatedBy, ch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.CreatePublic: %w", err)
	}
	if err := r.Join(ctx, ch.ID, createdBy); err != nil {
		return nil, err
	}
	ch.Participants = []identity.Ref{createdBy}
	return ch, nil
}

// Join adds a member to a public channel. Idempotent.
func (r *ChannelRepository) Join(ctx context.Context, channelID string, ref identity.Ref) error {
	defer logger.DeferLogDuration("channel.Join", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channel_members (channel_id, member_ref, joined_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		channelID, ref, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("channelRepo.Join: %w", err)
	}
	return nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.GetByID", time.Now())()
	ch := &model.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, channel_type, name, created_by, created_at
		 FROM channels WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.ChannelType, &ch.Name, &ch.CreatedBy, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("channelRepo.GetByID: %w", err)
	}
	refs, err := r.ParticipantRefs(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	ch.Participants = refs
	return ch, nil
}

// IsParticipant reports whether ref is a member of the channel. The ref must
// come from the identity resolver; comparisons against storage row ids are
// exactly the defect this module exists to prevent.
func (r *ChannelRepository) IsParticipant(ctx context.Context, channelID string, ref identity.Ref) (bool, error) {
	defer logger.DeferLogDuration("channel.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = $1 AND member_ref = $2)`,
		channelID, ref,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("channelRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *ChannelRepository) ParticipantRefs(ctx context.Context, channelID string) ([]identity.Ref, error) {
	defer logger.DeferLogDuration("channel.ParticipantRefs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT member_ref FROM channel_members WHERE channel_id = $1 ORDER BY member_ref`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ParticipantRefs query: %w", err)
	}
	defer rows.Close()

	refs := make([]identity.Ref, 0, 8)
	for rows.Next() {
		var ref identity.Ref
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("channelRepo.ParticipantRefs scan: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.ParticipantRefs rows: %w", err)
	}
	return refs, nil
}

// ListFor returns the channels ref participates in, newest first.
func (r *ChannelRepository) ListFor(ctx context.Context, ref identity.Ref) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.ListFor", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.channel_type, c.name, c.created_by, c.created_at
		 FROM channels c
		 JOIN channel_members cm ON cm.channel_id = c.id
		 WHERE cm.member_ref = $1
		 ORDER BY c.created_at DESC`, ref,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ListFor query: %w", err)
	}
	defer rows.Close()

	channels := make([]model.Channel, 0, 16)
	for rows.Next() {
		var ch model.Channel
		if err := rows.Scan(&ch.ID, &ch.ChannelType, &ch.Name, &ch.CreatedBy, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("channelRepo.ListFor scan: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.ListFor rows: %w", err)
	}
	for i := range channels {
		refs, err := r.ParticipantRefs(ctx, channels[i].ID)
		if err != nil {
			return nil, err
		}
		channels[i].Participants = refs
	}
	return channels, nil
}
