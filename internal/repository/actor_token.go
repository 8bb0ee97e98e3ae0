package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxledger/internal/domain"
)

type ActorTokenRepository struct {
	db *sql.DB
}

func NewActorTokenRepository(db *sql.DB) *ActorTokenRepository {
	return &ActorTokenRepository{db: db}
}

// EnsureSchema creates the token table if missing.
func (r *ActorTokenRepository) EnsureSchema(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS api_tokens (
			id         BIGSERIAL PRIMARY KEY,
			token_hash TEXT NOT NULL UNIQUE,
			actor_id   TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure api_tokens schema: %w", err)
	}
	return nil
}

// FindByPlainToken resolves a bearer token to the actor identity it stands
// for. Tokens are stored hashed; expired tokens never match.
func (r *ActorTokenRepository) FindByPlainToken(ctx context.Context, plainToken string) (*domain.ActorToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, errors.New("empty token")
	}

	sum := sha256.Sum256([]byte(plainToken))
	hashStr := fmt.Sprintf("%x", sum)

	query := `
		SELECT id, token_hash, actor_id, actor_role, expires_at
		FROM api_tokens
		WHERE token_hash = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		LIMIT 1
	`

	var tok domain.ActorToken
	err := r.db.QueryRowContext(ctx, query, hashStr, time.Now()).Scan(
		&tok.ID,
		&tok.TokenHash,
		&tok.ActorID,
		&tok.ActorRole,
		&tok.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("token not found")
		}
		return nil, err
	}

	return &tok, nil
}
