package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetUserByEmail resolves a user by their primary email address, the
// identifying column for the email channel.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT user_id, primary_email, chat_number, display_name, status
		FROM users
		WHERE primary_email = $1
	`
	return r.scanUser(ctx, query, email)
}

// GetUserByChatNumber resolves a user by their chat address, the
// identifying column for the chat channel.
func (r *Repository) GetUserByChatNumber(ctx context.Context, number string) (*User, error) {
	query := `
		SELECT user_id, primary_email, chat_number, display_name, status
		FROM users
		WHERE chat_number = $1
	`
	return r.scanUser(ctx, query, number)
}

// GetUserByID loads a user by primary key.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT user_id, primary_email, chat_number, display_name, status
		FROM users
		WHERE user_id = $1
	`
	return r.scanUser(ctx, query, id)
}

func (r *Repository) scanUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	var u User
	err := r.db.Pool().QueryRow(ctx, query, arg).Scan(
		&u.UserID, &u.PrimaryEmail, &u.ChatNumber, &u.DisplayName, &u.Status,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// GetPreferences loads the single preferences row for a user.
func (r *Repository) GetPreferences(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	query := `
		SELECT user_id, timezone, tone, default_action, fallback_channel
		FROM preferences
		WHERE user_id = $1
	`
	var p Preferences
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Timezone, &p.Tone, &p.DefaultAction, &p.FallbackChannel,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return &p, nil
}
