package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsweep/pkg/logger"
)

// UserProfileAdapter reads user profile data for personalization checks.
type UserProfileAdapter struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewUserProfileAdapter(db *sqlx.DB) *UserProfileAdapter {
	return &UserProfileAdapter{
		db:  db,
		log: logger.WithField("component", "user_profile_adapter"),
	}
}

// FirstName returns the first token of the user's display name, or empty when
// the profile is missing. Lookup failures degrade to empty so detection never
// blocks on profile reads.
func (a *UserProfileAdapter) FirstName(ctx context.Context, userID uuid.UUID) string {
	var displayName sql.NullString
	err := a.db.GetContext(ctx, &displayName,
		`SELECT display_name FROM users WHERE id = $1`, userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			a.log.WithError(err).WithField("user_id", userID.String()).
				Warn("Failed to load user profile")
		}
		return ""
	}
	if !displayName.Valid {
		return ""
	}

	name := strings.TrimSpace(displayName.String)
	if name == "" {
		return ""
	}
	first, _, _ := strings.Cut(name, " ")
	return first
}
