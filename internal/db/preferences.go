package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetUserPreference retrieves a single keyed preference for a user
func (db *DB) GetUserPreference(ctx context.Context, userID, key string) (string, error) {
	query := `SELECT value FROM user_preferences WHERE user_id = $1 AND key = $2`

	var value string
	err := db.pool.QueryRow(ctx, query, userID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("preference %s/%s: %w", userID, key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get user preference: %w", err)
	}

	return value, nil
}

// SetUserPreference stores a keyed preference for a user, replacing any
// previous value
func (db *DB) SetUserPreference(ctx context.Context, userID, key, value string) error {
	query := `
		INSERT INTO user_preferences (user_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()`

	_, err := db.pool.Exec(ctx, query, userID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set user preference: %w", err)
	}

	return nil
}

// ListUserPreferences retrieves all keyed preferences for a user
func (db *DB) ListUserPreferences(ctx context.Context, userID string) (map[string]string, error) {
	query := `SELECT key, value FROM user_preferences WHERE user_id = $1`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan user preference: %w", err)
		}
		prefs[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user preferences: %w", err)
	}

	return prefs, nil
}

// DeleteUserPreference removes a keyed preference for a user. Deleting a
// missing key is not an error.
func (db *DB) DeleteUserPreference(ctx context.Context, userID, key string) error {
	query := `DELETE FROM user_preferences WHERE user_id = $1 AND key = $2`

	_, err := db.pool.Exec(ctx, query, userID, key)
	if err != nil {
		return fmt.Errorf("failed to delete user preference: %w", err)
	}

	return nil
}
