// access_token_repository.go implements AccessTokenRepository, providing
// database queries for personal access token lookup by prefix, creation,
// listing, deletion, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/voice-companion/credential-vault/internal/db/models"
)

// AccessTokenRepository handles personal access token database operations
type AccessTokenRepository struct {
	db *sql.DB
}

// NewAccessTokenRepository creates a new AccessTokenRepository
func NewAccessTokenRepository(db *sql.DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

const tokenColumns = `id, user_id, name, token_hash, token_prefix, expires_at, last_used_at, created_at`

// Create inserts a new access token
func (r *AccessTokenRepository) Create(ctx context.Context, token *models.AccessToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	token.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, user_id, name, token_hash, token_prefix, expires_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		token.ID,
		token.UserID,
		token.Name,
		token.TokenHash,
		token.TokenPrefix,
		token.ExpiresAt,
		token.LastUsedAt,
		token.CreatedAt,
	)
	return err
}

// GetByPrefix returns candidate tokens matching a display prefix. The prefix
// narrows the set so the caller runs the expensive bcrypt comparison on a few
// rows rather than the whole table.
func (r *AccessTokenRepository) GetByPrefix(ctx context.Context, prefix string) ([]*models.AccessToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM access_tokens WHERE token_prefix = $1`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTokens(rows)
}

// ListByUser returns all tokens belonging to a user, newest first.
func (r *AccessTokenRepository) ListByUser(ctx context.Context, userID string) ([]*models.AccessToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM access_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTokens(rows)
}

// GetByID retrieves one token. Returns (nil, nil) when missing.
func (r *AccessTokenRepository) GetByID(ctx context.Context, id string) (*models.AccessToken, error) {
	token := &models.AccessToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM access_tokens WHERE id = $1`, id).Scan(
		&token.ID,
		&token.UserID,
		&token.Name,
		&token.TokenHash,
		&token.TokenPrefix,
		&token.ExpiresAt,
		&token.LastUsedAt,
		&token.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Delete removes a token by id. The bool result reports whether a row was
// actually deleted.
func (r *AccessTokenRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateLastUsed stamps the token's last_used_at with the current time
func (r *AccessTokenRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE access_tokens SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func scanTokens(rows *sql.Rows) ([]*models.AccessToken, error) {
	tokens := []*models.AccessToken{}
	for rows.Next() {
		token := &models.AccessToken{}
		if err := rows.Scan(
			&token.ID,
			&token.UserID,
			&token.Name,
			&token.TokenHash,
			&token.TokenPrefix,
			&token.ExpiresAt,
			&token.LastUsedAt,
			&token.CreatedAt,
		); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
