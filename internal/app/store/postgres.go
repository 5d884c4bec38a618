package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"roomchat/internal/pkg/logx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Postgres implements Gateway on top of a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres initializes the connection pool, applies pending migrations, and
// returns the ready Gateway implementation.
func NewPostgres(dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logx.Info("Database migrations applied successfully.")
	return nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// IsMember reports whether the user belongs to the room.
func (p *Postgres) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM room_members
			WHERE room_id = $1 AND user_id = $2
		)
	`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("membership lookup failed: %w", err)
	}
	return exists, nil
}

// CreateMessage persists a new chat message. The bigserial id assigned here is
// the room's commit order.
func (p *Postgres) CreateMessage(ctx context.Context, roomID, senderID int64, content string, attachments []Attachment) (ChatMessage, error) {
	attachmentsJSON, err := marshalAttachments(attachments)
	if err != nil {
		return ChatMessage{}, err
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, sender_id, content, attachments)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, (SELECT username FROM users WHERE id = $2)
	`, roomID, senderID, content, attachmentsJSON)

	msg := ChatMessage{
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
	}
	if err := row.Scan(&msg.ID, &msg.CreatedAt, &msg.SenderName); err != nil {
		return ChatMessage{}, fmt.Errorf("message insert failed: %w", err)
	}
	return msg, nil
}

// ListRecentMessages returns the most recent limit messages, oldest-first.
func (p *Postgres) ListRecentMessages(ctx context.Context, roomID int64, limit int) ([]ChatMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.attachments, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1
		ORDER BY m.id DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("message history query failed: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message history scan failed: %w", err)
	}

	// The query walks newest-first for the LIMIT; callers expect oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetMessage returns the message with the given id.
func (p *Postgres) GetMessage(ctx context.Context, messageID int64) (ChatMessage, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.attachments, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChatMessage{}, ErrMessageNotFound
		}
		return ChatMessage{}, err
	}
	return msg, nil
}

// FindReceipt returns the receipt for the (message, viewer) pair, or nil.
func (p *Postgres) FindReceipt(ctx context.Context, messageID, userID int64) (*SeenReceipt, error) {
	receipt := SeenReceipt{MessageID: messageID, UserID: userID}
	err := p.pool.QueryRow(ctx, `
		SELECT seen_at FROM message_receipts
		WHERE message_id = $1 AND user_id = $2
	`, messageID, userID).Scan(&receipt.SeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("receipt lookup failed: %w", err)
	}
	return &receipt, nil
}

// CreateReceipt records a receipt. The unique constraint on (message_id, user_id)
// makes the first write win; a conflicting insert reports created=false.
func (p *Postgres) CreateReceipt(ctx context.Context, messageID, userID int64, seenAt time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO message_receipts (message_id, user_id, seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID, seenAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("receipt insert failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanMessage reads one message row, decoding the attachments JSON column.
func scanMessage(row pgx.Row) (ChatMessage, error) {
	var msg ChatMessage
	var attachmentsJSON []byte

	if err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Content, &attachmentsJSON, &msg.CreatedAt); err != nil {
		return ChatMessage{}, err
	}

	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
			return ChatMessage{}, fmt.Errorf("invalid attachments payload for message %d: %w", msg.ID, err)
		}
	}
	return msg, nil
}

// marshalAttachments encodes attachment metadata for the jsonb column.
// An empty slice is stored as SQL NULL.
func marshalAttachments(attachments []Attachment) ([]byte, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	return data, nil
}
