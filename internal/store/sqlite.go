// Package store provides read-only access to the Messages SQLite database
// (chat.db): chats, messages, attachments, reactions, and participants.
// The foreign writer (Messages.app) continues to append rows while this
// package reads, so the database is opened read-only but never immutable.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "github.com/mattn/go-sqlite3"

	"github.com/imrpcd/imrpcd/internal/appletime"
	"github.com/imrpcd/imrpcd/internal/model"
)

// ErrNotFound wraps lookups for a chat or message that doesn't exist, so
// callers can classify the failure without string-matching the message.
var ErrNotFound = errors.New("not found")

// busyTimeoutMS is how long a query waits for a write lock held by the
// foreign writer (Messages.app) before giving up.
const busyTimeoutMS = 5000

// Store wraps a read-only *sql.DB over chat.db.
type Store struct {
	db                *sql.DB
	hasAttributedBody bool
	hasReplyToGUID    bool
}

// Open opens path in read-only mode with a 5s busy timeout and probes the
// message table schema. It does not open the database immutable: the
// foreign writer keeps appending rows and callers must observe them.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", path, busyTimeoutMS)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chat database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		if isPermissionError(err) {
			return nil, fmt.Errorf("cannot read %s: permission denied — grant Full Disk Access to this process in System Settings > Privacy & Security > Full Disk Access: %w", path, err)
		}
		return nil, fmt.Errorf("open chat database: %w", err)
	}

	s := &Store{db: db}

	if err := s.probeSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// probeSchema discovers whether optional columns (attributedBody,
// reply_to_guid) exist, since older schemas lack them.
func (s *Store) probeSchema() error {
	cols, err := s.tableColumns("message")
	if err != nil {
		return fmt.Errorf("probe message schema: %w", err)
	}
	s.hasAttributedBody = cols["attributedbody"]
	s.hasReplyToGUID = cols["reply_to_guid"]
	return nil
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func isPermissionError(err error) bool {
	return strings.Contains(err.Error(), "permission denied") || strings.Contains(err.Error(), "unable to open database file")
}

func (s *Store) bodyProjection() string {
	if s.hasAttributedBody {
		return "m.attributedBody"
	}
	return "NULL"
}

func (s *Store) replyToProjection() string {
	if s.hasReplyToGUID {
		return "COALESCE(m.reply_to_guid, '')"
	}
	return "''"
}

// reactionExclusion filters out rows that are themselves tapback reactions
// (not regular messages) so message listings don't show "Loved ..." lines.
const reactionExclusion = `
	AND (m.associated_message_guid IS NULL OR m.associated_message_guid = '')
`

// ListChats returns the most recently active chats, ordered by the time of
// their latest message, capped at limit. Participants are not populated
// here — callers attach them via the chat cache.
func (s *Store) ListChats(ctx context.Context, limit int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.ROWID,
			COALESCE(c.chat_identifier, ''),
			COALESCE(c.guid, ''),
			COALESCE(c.display_name, ''),
			COALESCE(c.service_name, ''),
			MAX(m.date) AS last_date,
			COUNT(DISTINCT ch.handle_id) > 1 AS is_group
		FROM chat c
		LEFT JOIN chat_message_join cmj ON cmj.chat_id = c.ROWID
		LEFT JOIN message m ON m.ROWID = cmj.message_id
		LEFT JOIN chat_handle_join ch ON ch.chat_id = c.ROWID
		GROUP BY c.ROWID
		ORDER BY last_date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var (
			id          int64
			identifier  string
			guid        string
			displayName string
			service     string
			lastDate    sql.NullInt64
			isGroup     bool
		)
		if err := rows.Scan(&id, &identifier, &guid, &displayName, &service, &lastDate, &isGroup); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}

		name := displayName
		if name == "" {
			name = identifier
		}

		chat := model.Chat{
			ID:          id,
			Identifier:  identifier,
			GUID:        guid,
			DisplayName: name,
			Service:     service,
			IsGroup:     isGroup,
		}
		if lastDate.Valid {
			chat.LastMessageAt = appletime.FromNanos(lastDate.Int64)
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// ChatInfo returns the base chat row for chatID, used by the chat cache.
func (s *Store) ChatInfo(ctx context.Context, chatID int64) (model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			ROWID,
			COALESCE(chat_identifier, ''),
			COALESCE(guid, ''),
			COALESCE(display_name, ''),
			COALESCE(service_name, '')
		FROM chat
		WHERE ROWID = ?
	`, chatID)

	var chat model.Chat
	var displayName string
	if err := row.Scan(&chat.ID, &chat.Identifier, &chat.GUID, &displayName, &chat.Service); err != nil {
		if err == sql.ErrNoRows {
			return model.Chat{}, fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
		}
		return model.Chat{}, fmt.Errorf("chat info: %w", err)
	}

	chat.DisplayName = displayName
	if chat.DisplayName == "" {
		chat.DisplayName = chat.Identifier
	}

	return chat, nil
}

// Participants returns the handle strings for chatID, used by the chat
// cache to populate Chat.Participants.
func (s *Store) Participants(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id
		FROM chat_handle_join chj
		JOIN handle h ON h.ROWID = chj.handle_id
		WHERE chj.chat_id = ?
		ORDER BY h.id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var handles []string
	for rows.Next() {
		var handle string
		if err := rows.Scan(&handle); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		handles = append(handles, handle)
	}

	return handles, rows.Err()
}

func (s *Store) messageQuery(where string) string {
	return fmt.Sprintf(`
		SELECT
			m.ROWID,
			cmj.chat_id,
			COALESCE(m.guid, ''),
			%s AS reply_to_guid,
			COALESCE(h.id, ''),
			m.is_from_me,
			COALESCE(m.text, ''),
			%s AS attributed_body,
			m.date
		FROM message m
		JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		WHERE %s
		%s
	`, s.replyToProjection(), s.bodyProjection(), where, reactionExclusion)
}

func (s *Store) scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var messages []model.Message
	for rows.Next() {
		var (
			id        int64
			chatID    int64
			guid      string
			replyTo   string
			sender    string
			isFromMe  int
			text      string
			attrBody  []byte
			dateNanos int64
		)
		if err := rows.Scan(&id, &chatID, &guid, &replyTo, &sender, &isFromMe, &text, &attrBody, &dateNanos); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		if text == "" {
			text = appletime.RecoverText(attrBody)
		}

		messages = append(messages, model.Message{
			ID:          id,
			ChatID:      chatID,
			GUID:        guid,
			ReplyToGUID: replyTo,
			Sender:      sender,
			IsFromMe:    isFromMe != 0,
			Text:        text,
			CreatedAt:   appletime.FromNanos(dateNanos),
		})
	}
	return messages, rows.Err()
}

// MessagesByChat returns the newest-first messages for chatID, capped at
// limit, with text resolved via the attributedBody fallback.
func (s *Store) MessagesByChat(ctx context.Context, chatID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 1
	}

	query := s.messageQuery("cmj.chat_id = ?") + " ORDER BY m.ROWID DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages by chat: %w", err)
	}
	defer rows.Close()

	return s.scanMessages(rows)
}

// MessagesAfter returns messages with row id strictly greater than
// afterRowID, ascending, optionally restricted to a single chat
// (chatIDFilter == 0 means all chats), capped at limit. Used by the
// watcher's poll loop.
func (s *Store) MessagesAfter(ctx context.Context, afterRowID int64, chatIDFilter int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 1
	}

	where := "m.ROWID > ?"
	args := []any{afterRowID}
	if chatIDFilter != 0 {
		where += " AND cmj.chat_id = ?"
		args = append(args, chatIDFilter)
	}
	args = append(args, limit)

	query := s.messageQuery(where) + " ORDER BY m.ROWID ASC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("messages after: %w", err)
	}
	defer rows.Close()

	return s.scanMessages(rows)
}

// Message looks up a single message by GUID, used to resolve chat context
// when a reaction is sent without an explicit chat target.
func (s *Store) Message(ctx context.Context, guid string) (model.Message, error) {
	query := s.messageQuery("m.guid = ?") + " LIMIT 1"
	rows, err := s.db.QueryContext(ctx, query, guid)
	if err != nil {
		return model.Message{}, fmt.Errorf("message by guid: %w", err)
	}
	defer rows.Close()

	messages, err := s.scanMessages(rows)
	if err != nil {
		return model.Message{}, err
	}
	if len(messages) == 0 {
		return model.Message{}, fmt.Errorf("message %q: %w", guid, ErrNotFound)
	}
	return messages[0], nil
}

// MaxRowID returns the current highest message row id, used to bootstrap a
// subscription's watermark.
func (s *Store) MaxRowID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(ROWID) FROM message").Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max row id: %w", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	return maxID.Int64, nil
}

// AttachmentsByMessage resolves tilde-prefixed paths against the home
// directory and marks Missing when the resolved path is not a regular file.
func (s *Store) AttachmentsByMessage(ctx context.Context, messageID int64) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			COALESCE(a.filename, ''),
			COALESCE(a.transfer_name, ''),
			COALESCE(a.uti, ''),
			COALESCE(a.mime_type, ''),
			COALESCE(a.total_bytes, 0),
			COALESCE(a.is_sticker, 0)
		FROM attachment a
		JOIN message_attachment_join maj ON maj.attachment_id = a.ROWID
		WHERE maj.message_id = ?
		ORDER BY a.ROWID
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("attachments by message: %w", err)
	}
	defer rows.Close()

	var attachments []model.Attachment
	for rows.Next() {
		var (
			filename     string
			transferName string
			uti          string
			mimeType     string
			totalBytes   int64
			isSticker    int
		)
		if err := rows.Scan(&filename, &transferName, &uti, &mimeType, &totalBytes, &isSticker); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}

		path := expandHome(filename)
		missing := true
		if path != "" {
			if info, statErr := os.Stat(path); statErr == nil && info.Mode().IsRegular() {
				missing = false
				if mimeType == "" {
					if detected, detectErr := mimetype.DetectFile(path); detectErr == nil {
						mimeType = detected.String()
					}
				}
			}
		}

		attachments = append(attachments, model.Attachment{
			Filename:     filename,
			TransferName: transferName,
			UTI:          uti,
			MimeType:     mimeType,
			TotalBytes:   totalBytes,
			IsSticker:    isSticker != 0,
			Path:         path,
			Missing:      missing,
		})
	}

	return attachments, rows.Err()
}

// reactionVerbs maps the modern (type=0, text-based) tapback prefixes to
// their typed kind.
var reactionVerbs = map[string]model.ReactionKind{
	"Loved ":      model.ReactionLove,
	"Liked ":      model.ReactionLike,
	"Disliked ":   model.ReactionDislike,
	"Laughed at ": model.ReactionLaugh,
	"Emphasized ": model.ReactionEmphasis,
	"Questioned ": model.ReactionQuestion,
}

// legacyReactionTypes maps the older (macOS/iOS pre-2020) numeric message
// type range used for tapbacks to their typed kind.
var legacyReactionTypes = map[int]model.ReactionKind{
	2000: model.ReactionLove,
	2001: model.ReactionLike,
	2002: model.ReactionDislike,
	2003: model.ReactionLaugh,
	2004: model.ReactionEmphasis,
	2005: model.ReactionQuestion,
}

var reactionEmoji = map[model.ReactionKind]string{
	model.ReactionLove:     "❤️",
	model.ReactionLike:     "\U0001F44D",
	model.ReactionDislike:  "\U0001F44E",
	model.ReactionLaugh:    "\U0001F602",
	model.ReactionEmphasis: "‼️",
	model.ReactionQuestion: "❓",
}

// ReactionsByMessage returns the typed tapbacks attached to the message
// identified by messageGUID, recognizing both the modern text-prefix
// encoding and the legacy numeric type range.
func (s *Store) ReactionsByMessage(ctx context.Context, messageGUID string) ([]model.Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			m.ROWID,
			m.type,
			COALESCE(m.text, ''),
			COALESCE(h.id, ''),
			m.is_from_me,
			m.date
		FROM message m
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		WHERE m.associated_message_guid = ?
		ORDER BY m.ROWID
	`, messageGUID)
	if err != nil {
		return nil, fmt.Errorf("reactions by message: %w", err)
	}
	defer rows.Close()

	var reactions []model.Reaction
	for rows.Next() {
		var (
			id        int64
			msgType   int
			text      string
			sender    string
			isFromMe  int
			dateNanos int64
		)
		if err := rows.Scan(&id, &msgType, &text, &sender, &isFromMe, &dateNanos); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}

		kind, emoji, ok := classifyReaction(msgType, text)
		if !ok {
			continue
		}

		reactions = append(reactions, model.Reaction{
			ID:        id,
			Kind:      kind,
			Emoji:     emoji,
			Sender:    sender,
			IsFromMe:  isFromMe != 0,
			CreatedAt: appletime.FromNanos(dateNanos),
		})
	}

	return reactions, rows.Err()
}

func classifyReaction(msgType int, text string) (model.ReactionKind, string, bool) {
	if kind, ok := legacyReactionTypes[msgType]; ok {
		return kind, reactionEmoji[kind], true
	}

	for prefix, kind := range reactionVerbs {
		if strings.HasPrefix(text, prefix) {
			return kind, reactionEmoji[kind], true
		}
	}

	if strings.HasPrefix(text, "Reacted ") {
		return model.ReactionCustom, strings.TrimSpace(strings.TrimPrefix(text, "Reacted ")), true
	}

	return "", "", false
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}
