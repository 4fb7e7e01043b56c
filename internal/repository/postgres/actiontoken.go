package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pkosilov/accounts/internal/apperrors"
	"github.com/pkosilov/accounts/internal/models"
)

type ActionTokenRepo struct {
	DB DBTX
}

const saveActionToken = `-- name: SaveActionToken superseding unconsumed ones of the same kind
WITH superseded AS (
    DELETE FROM action_tokens
    WHERE user_id = $2 AND kind = $3 AND consumed_at IS NULL
)
INSERT INTO action_tokens (id, user_id, kind, token, created_at, expires_at, consumed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, user_id, kind, token, created_at, expires_at, consumed_at
`

// Save token
// Prior unconsumed tokens of the same (user, kind) are deleted in the same
// statement, so only the most recently issued token can ever be consumed
func (r *ActionTokenRepo) Save(ctx context.Context, token models.ActionToken) (models.ActionToken, error) {
	rows, _ := r.DB.Query(ctx, saveActionToken,
		token.ID, token.UserID, token.Kind, token.Token, token.CreatedAt, token.ExpiresAt, token.ConsumedAt)
	saved, err := pgx.CollectOneRow(rows, rowToActionToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}

	return saved, nil
}

const consumeActionToken = `-- name: ConsumeActionToken if valid and not consumed
UPDATE action_tokens
SET consumed_at = COALESCE(consumed_at, $4)
WHERE user_id = $1 AND kind = $2 AND token = $3 AND expires_at > $4
RETURNING id, user_id, kind, token, created_at, expires_at, consumed_at
`

// Consume the token
// Single use: the COALESCE update never rewrites an already set consumed_at,
// so repeated or concurrent consumption fails for everyone but the first
func (r *ActionTokenRepo) Consume(ctx context.Context, userID uuid.UUID, kind string, tokenString string, now time.Time) (models.ActionToken, error) {
	// Postgres keeps timestamps at microsecond precision, the win check
	// below must compare the instant the database actually stored
	now = now.Truncate(time.Microsecond)

	rows, _ := r.DB.Query(ctx, consumeActionToken, userID, kind, tokenString, now)
	token, err := pgx.CollectOneRow(rows, rowToActionToken)

	switch {
	case err == nil && token.ConsumedAt != nil && token.ConsumedAt.Equal(now):
		return token, nil
	case err == nil: // consumed_at was set before this call
		return token, fmt.Errorf("repo error: %w", apperrors.ErrActionTokenInvalid)
	case errors.Is(err, pgx.ErrNoRows): // unknown, superseded or expired
		return token, fmt.Errorf("repo error: %w", apperrors.ErrActionTokenInvalid)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToActionToken(row pgx.CollectableRow) (models.ActionToken, error) {
	var t models.ActionToken
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.ConsumedAt)
	return t, err
}
