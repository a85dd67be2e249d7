package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"

	"mailsweep/pkg/apperr"
	"mailsweep/pkg/crypto"
)

// OAuthTokenAdapter stores per-user OAuth tokens encrypted at rest. The
// oauth2 token source refreshes expired access tokens itself; SaveToken
// persists the refreshed credentials when the caller hands them back.
type OAuthTokenAdapter struct {
	db        *sqlx.DB
	encryptor *crypto.Encryptor
}

func NewOAuthTokenAdapter(db *sqlx.DB, encryptor *crypto.Encryptor) *OAuthTokenAdapter {
	return &OAuthTokenAdapter{db: db, encryptor: encryptor}
}

type oauthTokenRow struct {
	UserID       uuid.UUID      `db:"user_id"`
	AccessToken  string         `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	TokenType    string         `db:"token_type"`
	Expiry       sql.NullTime   `db:"expiry"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// TokenForUser returns the stored token for a user.
func (a *OAuthTokenAdapter) TokenForUser(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	var row oauthTokenRow
	query := `SELECT * FROM oauth_tokens WHERE user_id = $1`

	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("oauth token")
		}
		return nil, fmt.Errorf("failed to get oauth token: %w", err)
	}

	accessToken, err := a.encryptor.Decrypt(row.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refreshToken, err := a.encryptor.Decrypt(row.RefreshToken.String)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    row.TokenType,
	}
	if row.Expiry.Valid {
		token.Expiry = row.Expiry.Time
	}
	return token, nil
}

// SaveToken upserts a user's token. An empty refresh token never overwrites a
// stored one; Google only returns it on the first consent.
func (a *OAuthTokenAdapter) SaveToken(ctx context.Context, userID uuid.UUID, token *oauth2.Token) error {
	accessToken, err := a.encryptor.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := a.encryptor.Encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	query := `
		INSERT INTO oauth_tokens (user_id, access_token, refresh_token, token_type, expiry)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_tokens.refresh_token),
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()`

	_, err = a.db.ExecContext(
		ctx, query,
		userID,
		accessToken,
		refreshToken,
		token.TokenType,
		nullTime(token.Expiry),
	)
	if err != nil {
		return fmt.Errorf("failed to save oauth token: %w", err)
	}
	return nil
}
