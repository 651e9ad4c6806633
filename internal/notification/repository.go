package notification

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SchemaSQL is applied by the API service at startup. Embedded so the binary
// does not depend on its working directory.
//
//go:embed schema.sql
var SchemaSQL string

// Store is the persistence boundary the orchestrator depends on. Repository
// implements it on Postgres; tests use an in-memory fake.
type Store interface {
	SaveNotification(ctx context.Context, n *Notification) error
	UpdateStatus(ctx context.Context, id string, status Status, retryCount int) error
	NotificationsByUser(ctx context.Context, userID string) ([]*Notification, error)
	Preference(ctx context.Context, userID string) (*Preference, error)
	SavePreference(ctx context.Context, p *Preference) error
}

// Repository persists notifications and preferences in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveNotification inserts a new notification, assigning ID, status and
// timestamps.
func (r *Repository) SaveNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = StatusPending
	}

	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (id, user_id, type, recipient, title, message, status, priority, metadata, retry_count, scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Type, n.Recipient, n.Title, n.Message, n.Status,
		n.Priority, meta, n.RetryCount, n.ScheduledFor, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// UpdateStatus records a status transition and bumps updated_at; sent_at is
// stamped when the status is SENT.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, retryCount int) error {
	now := time.Now().UTC()
	var sentAt *time.Time
	if status == StatusSent {
		sentAt = &now
	}

	query := `UPDATE notifications SET status = $1, retry_count = $2, updated_at = $3, sent_at = COALESCE($4, sent_at) WHERE id = $5`
	_, err := r.db.ExecContext(ctx, query, status, retryCount, now, sentAt, id)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	return nil
}

// NotificationsByUser returns the user's notifications, newest first.
func (r *Repository) NotificationsByUser(ctx context.Context, userID string) ([]*Notification, error) {
	query := `
		SELECT id, user_id, type, recipient, title, message, status, priority, metadata, retry_count, scheduled_for, created_at, updated_at, sent_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var meta []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Recipient, &n.Title, &n.Message,
			&n.Status, &n.Priority, &meta, &n.RetryCount, &n.ScheduledFor,
			&n.CreatedAt, &n.UpdatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// Preference returns the user's stored preference, or nil when none exists.
func (r *Repository) Preference(ctx context.Context, userID string) (*Preference, error) {
	query := `
		SELECT user_id, email_enabled, push_enabled, types, quiet_hours_start, quiet_hours_end, preferred_time, frequency, timezone, created_at, updated_at
		FROM notification_preferences WHERE user_id = $1
	`
	row := r.db.QueryRowContext(ctx, query, userID)

	var p Preference
	var types pq.StringArray
	err := row.Scan(&p.UserID, &p.EmailEnabled, &p.PushEnabled, &types,
		&p.QuietHoursStart, &p.QuietHoursEnd, &p.PreferredTime, &p.Frequency,
		&p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query preference: %w", err)
	}
	for _, t := range types {
		p.Types = append(p.Types, NotificationType(t))
	}
	return &p, nil
}

// SavePreference upserts the user's preference record (last write wins).
func (r *Repository) SavePreference(ctx context.Context, p *Preference) error {
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	types := make(pq.StringArray, 0, len(p.Types))
	for _, t := range p.Types {
		types = append(types, string(t))
	}

	query := `
		INSERT INTO notification_preferences (user_id, email_enabled, push_enabled, types, quiet_hours_start, quiet_hours_end, preferred_time, frequency, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			push_enabled = EXCLUDED.push_enabled,
			types = EXCLUDED.types,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			preferred_time = EXCLUDED.preferred_time,
			frequency = EXCLUDED.frequency,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		p.UserID, p.EmailEnabled, p.PushEnabled, types,
		p.QuietHoursStart, p.QuietHoursEnd, p.PreferredTime, p.Frequency,
		p.Timezone, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}
