package storage

import (
	"context"
	"time"

	"github.com/eladgs/torbot/internal/model"
	"github.com/eladgs/torbot/libs/db"
)

type ConversationRepository struct {
	pool *db.Pool
}

func NewConversationRepository(pool *db.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Append(ctx context.Context, businessID, phone, role, content string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (business_id, customer_phone, role, content)
		VALUES ($1, $2, $3, $4)
	`, businessID, phone, role, content)
	return err
}

// ListRecent returns up to limit turns for the pair, oldest first.
func (r *ConversationRepository) ListRecent(ctx context.Context, businessID, phone string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, customer_phone, role, content, created_at
		FROM (
			SELECT id, business_id, customer_phone, role, content, created_at
			FROM conversations
			WHERE business_id = $1 AND customer_phone = $2
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC
	`, businessID, phone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		if err := rows.Scan(&t.ID, &t.BusinessID, &t.CustomerPhone, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return turns, nil
}

// LatestTurnAt returns the timestamp of the newest stored turn for the pair.
// ok is false when the pair has no history.
func (r *ConversationRepository) LatestTurnAt(ctx context.Context, businessID, phone string) (time.Time, bool, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(created_at)
		FROM conversations
		WHERE business_id = $1 AND customer_phone = $2
	`, businessID, phone).Scan(&at)
	if err != nil {
		return time.Time{}, false, err
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}

func (r *ConversationRepository) PurgeCustomer(ctx context.Context, businessID, phone string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM conversations
		WHERE business_id = $1 AND customer_phone = $2
	`, businessID, phone)
	return err
}

func (r *ConversationRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM conversations
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
