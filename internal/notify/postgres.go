package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// PostgresQueue stores notifications in the notification_outbox table so
// they survive restarts and can be drained by any node.
//
// LoadPending opens a transaction and holds it until MarkSent commits,
// so the FOR UPDATE SKIP LOCKED row locks stay in force for the whole
// load-deliver-mark window and concurrent dispatchers never pick up the
// same rows.
type PostgresQueue struct {
	db *sql.DB

	mu sync.Mutex
	tx *sql.Tx
}

// NewPostgresQueue wraps an open database handle.
func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Enqueue inserts one row.
func (q *PostgresQueue) Enqueue(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO notification_outbox (user_id, title, body, data) VALUES ($1, $2, $3, $4)`,
		n.UserID.String(), n.Title, n.Body, data)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// LoadPending begins a transaction, locks up to limit unsent rows oldest
// first and returns them. The transaction stays open until the matching
// MarkSent call; an empty batch ends it immediately.
func (q *PostgresQueue) LoadPending(ctx context.Context, limit int) ([]Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tx != nil {
		// Leftover from a batch that never reached MarkSent.
		_ = q.tx.Rollback()
		q.tx = nil
	}

	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	pending, err := loadPendingRows(ctx, tx, limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if len(pending) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty batch: %w", err)
		}
		return nil, nil
	}
	q.tx = tx
	return pending, nil
}

func loadPendingRows(ctx context.Context, tx *sql.Tx, limit int) ([]Pending, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, title, body, data, created_at
		 FROM notification_outbox WHERE sent = false
		 ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var pending []Pending
	for rows.Next() {
		var (
			p      Pending
			userID string
			data   []byte
		)
		if err := rows.Scan(&p.ID, &userID, &p.Notification.Title, &p.Notification.Body, &data, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		p.Notification.UserID, err = uuid.Parse(userID)
		if err != nil {
			return nil, fmt.Errorf("parse user id: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p.Notification.Data); err != nil {
				return nil, fmt.Errorf("unmarshal data: %w", err)
			}
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return pending, nil
}

// MarkSent flips the sent flag on delivered rows and commits the
// transaction opened by LoadPending, releasing the row locks. Undelivered
// locked rows revert to unsent for the next batch.
func (q *PostgresQueue) MarkSent(ctx context.Context, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	tx := q.tx
	q.tx = nil
	if tx == nil {
		if len(ids) == 0 {
			return nil
		}
		return fmt.Errorf("mark sent: no open batch")
	}
	if len(ids) > 0 {
		placeholders := make([]string, len(ids))
		args := make([]any, len(ids))
		for i, id := range ids {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = id
		}
		query := fmt.Sprintf("UPDATE notification_outbox SET sent = true WHERE id IN (%s)", strings.Join(placeholders, ","))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mark sent: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
