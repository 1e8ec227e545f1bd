package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PostgresUnlockRepository stores who unlocked which locked message as one
// row per (chat, message, user) with an unlock timestamp.
type PostgresUnlockRepository struct {
	db *sql.DB
}

func NewPostgresUnlockRepository(db *sql.DB) *PostgresUnlockRepository {
	return &PostgresUnlockRepository{db: db}
}

func (r *PostgresUnlockRepository) MarkContentUnlocked(ctx context.Context, chatID, messageID string, userID int64) error {
	query := `INSERT INTO message_unlocks (chat_id, message_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, message_id, user_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, chatID, messageID, userID)
	if err != nil {
		slog.Error("failed to mark content unlocked", "chat_id", chatID, "message_id", messageID, "user_id", userID, "error", err)
		return fmt.Errorf("failed to mark content unlocked: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("content unlocked", "chat_id", chatID, "message_id", messageID, "user_id", userID)
	}
	return nil
}

func (r *PostgresUnlockRepository) IsUnlocked(ctx context.Context, chatID, messageID string, userID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM message_unlocks WHERE chat_id = $1 AND message_id = $2 AND user_id = $3)`
	err := r.db.QueryRowContext(ctx, query, chatID, messageID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check unlock: %w", err)
	}
	return exists, nil
}
