package rpc

import (
	"context"

	"github.com/imrpcd/imrpcd/internal/model"
)

// Store is the subset of internal/store.Store the dispatcher depends on.
type Store interface {
	ListChats(ctx context.Context, limit int) ([]model.Chat, error)
	MessagesByChat(ctx context.Context, chatID int64, limit int) ([]model.Message, error)
	Message(ctx context.Context, guid string) (model.Message, error)
	AttachmentsByMessage(ctx context.Context, messageID int64) ([]model.Attachment, error)
	ReactionsByMessage(ctx context.Context, messageGUID string) ([]model.Reaction, error)
}
