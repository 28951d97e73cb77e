// Package model holds the domain types shared by the store, cache, watcher,
// filter, and RPC layers: the read-only view of a chat.db row set.
package model

import "time"

// Chat is a row from the chat table, enriched with its latest message time
// and participant handles.
type Chat struct {
	ID            int64
	Identifier    string
	GUID          string
	DisplayName   string
	Service       string
	LastMessageAt time.Time
	Participants  []string
	IsGroup       bool
}

// Message is a row from the message table, joined to its owning chat and
// with its text resolved (falling back to the attributedBody blob when the
// text column is empty).
type Message struct {
	ID            int64
	ChatID        int64
	GUID          string
	ReplyToGUID   string
	Sender        string
	IsFromMe      bool
	Text          string
	CreatedAt     time.Time
	Attachments   []Attachment
	Reactions     []Reaction
	ChatIdentifier string
	ChatGUID      string
	ChatName      string
	Participants  []string
	IsGroup       bool
}

// Attachment is a row from the attachment table, joined to a message.
type Attachment struct {
	Filename     string
	TransferName string
	UTI          string
	MimeType     string
	TotalBytes   int64
	IsSticker    bool
	Path         string
	Missing      bool
}

// ReactionKind is the typed tapback kind recognized by Messages.
type ReactionKind string

const (
	ReactionLove      ReactionKind = "love"
	ReactionLike      ReactionKind = "like"
	ReactionDislike   ReactionKind = "dislike"
	ReactionLaugh     ReactionKind = "laugh"
	ReactionEmphasis  ReactionKind = "emphasis"
	ReactionQuestion  ReactionKind = "question"
	ReactionCustom    ReactionKind = "custom"
)

// Reaction is a row from the message table representing a tapback attached
// to another message.
type Reaction struct {
	ID        int64
	Kind      ReactionKind
	Emoji     string
	Sender    string
	IsFromMe  bool
	CreatedAt time.Time
}
