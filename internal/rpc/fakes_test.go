package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/imrpcd/imrpcd/internal/model"
	"github.com/imrpcd/imrpcd/internal/store"
)

// fakeStore is an in-memory double satisfying Store, chatcache.Source, and
// watcher.Source at once, so a single fixture can back both the dispatcher
// and the subscription worker in tests.
type fakeStore struct {
	mu sync.Mutex

	chats          map[int64]model.Chat
	chatOrder      []int64
	participants   map[int64][]string
	messagesByChat map[int64][]model.Message
	messageByGUID  map[string]model.Message
	attachments    map[int64][]model.Attachment
	reactions      map[string][]model.Reaction

	maxRowID   int64
	afterQueue [][]model.Message
	afterCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:          make(map[int64]model.Chat),
		participants:   make(map[int64][]string),
		messagesByChat: make(map[int64][]model.Message),
		messageByGUID:  make(map[string]model.Message),
		attachments:    make(map[int64][]model.Attachment),
		reactions:      make(map[string][]model.Reaction),
	}
}

func (f *fakeStore) addChat(c model.Chat, participants []string) {
	f.chats[c.ID] = c
	f.chatOrder = append(f.chatOrder, c.ID)
	f.participants[c.ID] = participants
}

func (f *fakeStore) addMessage(m model.Message) {
	f.messagesByChat[m.ChatID] = append(f.messagesByChat[m.ChatID], m)
	f.messageByGUID[m.GUID] = m
	if m.ID > f.maxRowID {
		f.maxRowID = m.ID
	}
}

func (f *fakeStore) ListChats(ctx context.Context, limit int) ([]model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Chat
	for _, id := range f.chatOrder {
		out = append(out, f.chats[id])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ChatInfo(ctx context.Context, chatID int64) (model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return model.Chat{}, fmt.Errorf("chat %d: %w", chatID, store.ErrNotFound)
	}
	return chat, nil
}

func (f *fakeStore) Participants(ctx context.Context, chatID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants[chatID], nil
}

func (f *fakeStore) MessagesByChat(ctx context.Context, chatID int64, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messagesByChat[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeStore) MessagesAfter(ctx context.Context, afterRowID int64, chatIDFilter int64, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.afterCalls >= len(f.afterQueue) {
		return nil, nil
	}
	batch := f.afterQueue[f.afterCalls]
	f.afterCalls++
	return batch, nil
}

func (f *fakeStore) Message(ctx context.Context, guid string) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messageByGUID[guid]
	if !ok {
		return model.Message{}, fmt.Errorf("message %q: %w", guid, store.ErrNotFound)
	}
	return msg, nil
}

func (f *fakeStore) MaxRowID(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRowID, nil
}

func (f *fakeStore) AttachmentsByMessage(ctx context.Context, messageID int64) ([]model.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachments[messageID], nil
}

func (f *fakeStore) ReactionsByMessage(ctx context.Context, messageGUID string) ([]model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reactions[messageGUID], nil
}
