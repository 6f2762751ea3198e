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

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// AppendParams describes one message write.
type AppendParams struct {
	ChannelID   string
	Sender      identity.Ref
	Content     string
	ReplyToID   *string
	Attachments []model.Attachment
}

// Append writes one message atomically and returns the canonical populated
// record. Callers must use the returned value, not a locally constructed
// one, for any subsequent state update or event payload.
//
// Validations inside the same transaction: the channel exists, the sender
// resolves to a known user, and a reply target lives in the same channel
// (ErrInvalidReply otherwise).
func (r *MessageRepository) Append(ctx context.Context, p AppendParams) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Append", time.Now())()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Append id: %w", err)
	}
	m := &model.Message{
		ID:          id.String(),
		ChannelID:   p.ChannelID,
		SenderRef:   p.Sender,
		Content:     p.Content,
		ReplyToID:   p.ReplyToID,
		CreatedAt:   time.Now().UTC(),
		Attachments: p.Attachments,
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Append begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var channelExists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channels WHERE id = $1)`, p.ChannelID,
	).Scan(&channelExists); err != nil {
		return nil, fmt.Errorf("msgRepo.Append channel check: %w", err)
	}
	if !channelExists {
		return nil, ErrNotFound
	}

	var senderName string
	err = tx.QueryRow(ctx,
		`SELECT display_name FROM users WHERE subject = $1`, p.Sender,
	).Scan(&senderName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrUnknownIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Append sender check: %w", err)
	}
	m.Sender = &model.UserPublic{Subject: p.Sender, DisplayName: senderName}

	if p.ReplyToID != nil {
		var replyChannel string
		err := tx.QueryRow(ctx,
			`SELECT channel_id FROM messages WHERE id = $1`, *p.ReplyToID,
		).Scan(&replyChannel)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidReply
		}
		if err != nil {
			return nil, fmt.Errorf("msgRepo.Append reply check: %w", err)
		}
		if replyChannel != p.ChannelID {
			return nil, ErrInvalidReply
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, channel_id, sender_ref, content, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ChannelID, m.SenderRef, m.Content, m.ReplyToID, m.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("msgRepo.Append insert: %w", err)
	}
	for _, a := range p.Attachments {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_attachments (message_id, ref, name, size_bytes)
			 VALUES ($1, $2, $3, $4)`,
			m.ID, a.Ref, a.Name, a.SizeBytes,
		); err != nil {
			return nil, fmt.Errorf("msgRepo.Append attachment: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("msgRepo.Append commit: %w", err)
	}
	return m, nil
}

// messageCols selects a message with its sender via LEFT JOIN. The join is
// deliberately outer: a message whose sender no longer resolves still
// returns, with NULL sender columns. Requiring an exact match here made
// whole channels render empty whenever identity sync lagged.
const messageCols = `m.id, m.channel_id, m.sender_ref, m.content, m.reply_to_id, m.created_at,
		        u.subject, u.display_name`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var senderSubject, senderName *string
	if err := s.Scan(&m.ID, &m.ChannelID, &m.SenderRef, &m.Content, &m.ReplyToID, &m.CreatedAt,
		&senderSubject, &senderName); err != nil {
		return err
	}
	if senderSubject != nil {
		m.Sender = &model.UserPublic{Subject: identity.Ref(*senderSubject)}
		if senderName != nil {
			m.Sender.DisplayName = *senderName
		}
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 LEFT JOIN users u ON u.subject = m.sender_ref
		 WHERE m.id = $1`, id,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByChannel returns messages in store order (created_at, id ascending).
// Pagination is cursor based: pass the oldest already-loaded message id as
// beforeID to fetch the preceding page, or "" for the newest page.
func (r *MessageRepository) ListByChannel(ctx context.Context, channelID, beforeID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByChannel", time.Now())()
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if beforeID == "" {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+`
			 FROM messages m
			 LEFT JOIN users u ON u.subject = m.sender_ref
			 WHERE m.channel_id = $1
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $2`, channelID, limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+`
			 FROM messages m
			 LEFT JOIN users u ON u.subject = m.sender_ref
			 WHERE m.channel_id = $1
			   AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2)
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $3`, channelID, beforeID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChannel query: %w", err)
	}
	defer rows.Close()

	page := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByChannel scan: %w", err)
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChannel rows: %w", err)
	}

	// Reverse into ascending store order for the client.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	if err := r.attachTo(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (r *MessageRepository) GetLastMessage(ctx context.Context, channelID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 LEFT JOIN users u ON u.subject = m.sender_ref
		 WHERE m.channel_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT 1`, channelID,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	return m, nil
}

// attachTo batch-loads attachments for a page of messages in one query.
func (r *MessageRepository) attachTo(ctx context.Context, page []model.Message) error {
	if len(page) == 0 {
		return nil
	}
	ids := make([]string, len(page))
	for i := range page {
		ids[i] = page[i].ID
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, ref, name, size_bytes
		 FROM message_attachments WHERE message_id = ANY($1)`, ids,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.attachTo query: %w", err)
	}
	defer rows.Close()

	byMessage := make(map[string][]model.Attachment, len(page))
	for rows.Next() {
		var msgID string
		var a model.Attachment
		if err := rows.Scan(&msgID, &a.Ref, &a.Name, &a.SizeBytes); err != nil {
			return fmt.Errorf("msgRepo.attachTo scan: %w", err)
		}
		byMessage[msgID] = append(byMessage[msgID], a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("msgRepo.attachTo rows: %w", err)
	}
	for i := range page {
		page[i].Attachments = byMessage[page[i].ID]
	}
	return nil
}
