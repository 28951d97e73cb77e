// Package chatcache memoizes per-chat metadata (identifier, guid, display
// name, service, participants) so repeated lookups during message streaming
// don't re-query chat.db for data that rarely changes mid-session.
package chatcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/imrpcd/imrpcd/internal/model"
)

// Source is the subset of the store the cache needs to populate an entry on
// a miss.
type Source interface {
	ChatInfo(ctx context.Context, chatID int64) (model.Chat, error)
	Participants(ctx context.Context, chatID int64) ([]string, error)
}

// Cache is a lazily-populated, never-evicted map of chat id to chat
// metadata. Entries are immutable once populated; a chat's identifier, guid,
// and participant list don't change for the lifetime of this process.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]model.Chat
	source  Source
}

// New returns a Cache that populates misses from source.
func New(source Source) *Cache {
	return &Cache{
		entries: make(map[int64]model.Chat),
		source:  source,
	}
}

// Get returns the cached metadata for chatID, populating it from the source
// on first access.
func (c *Cache) Get(ctx context.Context, chatID int64) (model.Chat, error) {
	c.mu.RLock()
	chat, ok := c.entries[chatID]
	c.mu.RUnlock()
	if ok {
		return chat, nil
	}

	chat, err := c.source.ChatInfo(ctx, chatID)
	if err != nil {
		return model.Chat{}, fmt.Errorf("load chat %d: %w", chatID, err)
	}

	participants, err := c.source.Participants(ctx, chatID)
	if err != nil {
		return model.Chat{}, fmt.Errorf("load participants for chat %d: %w", chatID, err)
	}
	chat.Participants = participants
	chat.IsGroup = len(participants) > 1

	c.mu.Lock()
	if existing, ok := c.entries[chatID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.entries[chatID] = chat
	c.mu.Unlock()

	return chat, nil
}

// Attach populates message's chat-derived fields (identifier, guid, name,
// participants, group flag) from the cache.
func (c *Cache) Attach(ctx context.Context, msg *model.Message) error {
	chat, err := c.Get(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	msg.ChatIdentifier = chat.Identifier
	msg.ChatGUID = chat.GUID
	msg.ChatName = chat.DisplayName
	msg.Participants = chat.Participants
	msg.IsGroup = chat.IsGroup
	return nil
}

// Len reports the number of cached entries, used by tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
