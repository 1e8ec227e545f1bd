package repository

import "context"

type UnlockRepository interface {
	// MarkContentUnlocked adds the user to the unlock set of the referenced
	// message. Adding an existing entry is a no-op.
	MarkContentUnlocked(ctx context.Context, chatID, messageID string, userID int64) error
	IsUnlocked(ctx context.Context, chatID, messageID string, userID int64) (bool, error)
}
