package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imrpcd/imrpcd/internal/contacts"
	"github.com/imrpcd/imrpcd/internal/filter"
	"github.com/imrpcd/imrpcd/internal/model"
	"github.com/imrpcd/imrpcd/internal/outbound"
	"github.com/imrpcd/imrpcd/internal/rpcerr"
	"github.com/imrpcd/imrpcd/internal/store"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func normalizeStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// classifyNotFound turns a store.ErrNotFound lookup failure into an
// invalid-params error; anything else passes through unchanged so the
// dispatcher maps it to an internal error.
func classifyNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return rpcerr.InvalidParams(err.Error())
	}
	return err
}

func toWireChat(c model.Chat) wireChat {
	return wireChat{
		ID:            c.ID,
		Identifier:    c.Identifier,
		GUID:          c.GUID,
		DisplayName:   c.DisplayName,
		Service:       c.Service,
		LastMessageAt: formatTime(c.LastMessageAt),
		Participants:  normalizeStrings(c.Participants),
		IsGroup:       c.IsGroup,
	}
}

func toWireAttachments(atts []model.Attachment) []wireAttachment {
	out := make([]wireAttachment, len(atts))
	for i, a := range atts {
		out[i] = wireAttachment{
			Filename:     a.Filename,
			TransferName: a.TransferName,
			UTI:          a.UTI,
			MimeType:     a.MimeType,
			TotalBytes:   a.TotalBytes,
			IsSticker:    a.IsSticker,
			Path:         a.Path,
			Missing:      a.Missing,
		}
	}
	return out
}

func toWireReactions(reactions []model.Reaction) []wireReaction {
	out := make([]wireReaction, len(reactions))
	for i, r := range reactions {
		out[i] = wireReaction{
			Kind:      string(r.Kind),
			Emoji:     r.Emoji,
			Sender:    r.Sender,
			IsFromMe:  r.IsFromMe,
			CreatedAt: formatTime(r.CreatedAt),
		}
	}
	return out
}

// toWireMessage shapes msg for the wire, including attachments and
// reactions only when includeExtras is set (messages.history's and
// watch.subscribe's "attachments" flag gates both together).
func (d *dispatcher) toWireMessage(ctx context.Context, msg model.Message, includeExtras bool) (wireMessage, error) {
	wm := wireMessage{
		ID:             msg.ID,
		ChatID:         msg.ChatID,
		GUID:           msg.GUID,
		ReplyToGUID:    msg.ReplyToGUID,
		Sender:         msg.Sender,
		IsFromMe:       msg.IsFromMe,
		Text:           msg.Text,
		CreatedAt:      formatTime(msg.CreatedAt),
		ChatIdentifier: msg.ChatIdentifier,
		ChatGUID:       msg.ChatGUID,
		ChatName:       msg.ChatName,
		Participants:   normalizeStrings(msg.Participants),
		IsGroup:        msg.IsGroup,
	}
	if !includeExtras {
		return wm, nil
	}

	atts, err := d.deps.Store.AttachmentsByMessage(ctx, msg.ID)
	if err != nil {
		return wireMessage{}, fmt.Errorf("load attachments: %w", err)
	}
	wm.Attachments = toWireAttachments(atts)

	reactions, err := d.deps.Store.ReactionsByMessage(ctx, msg.GUID)
	if err != nil {
		return wireMessage{}, fmt.Errorf("load reactions: %w", err)
	}
	wm.Reactions = toWireReactions(reactions)

	return wm, nil
}

func clampLimit(p *int, def int) int {
	if p == nil {
		return def
	}
	if *p <= 0 {
		return 1
	}
	return *p
}

func buildFilterParams(participants []string, start, end *string) filter.Params {
	fp := filter.Params{Participants: participants}
	if start != nil {
		fp.Start = *start
	}
	if end != nil {
		fp.End = *end
	}
	return fp
}

func handleChatsList(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		Limit *int `json:"limit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("chats.list: %v", err)
	}

	chats, err := d.deps.Store.ListChats(ctx, clampLimit(p.Limit, 20))
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	wire := make([]wireChat, len(chats))
	for i, c := range chats {
		cached, err := d.deps.Cache.Get(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("attach participants: %w", err)
		}
		c.Participants = cached.Participants
		wire[i] = toWireChat(c)
	}
	return map[string]any{"chats": wire}, nil
}

func handleMessagesHistory(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		ChatID       *int64   `json:"chat_id"`
		Limit        *int     `json:"limit"`
		Participants []string `json:"participants"`
		Start        *string  `json:"start"`
		End          *string  `json:"end"`
		Attachments  *bool    `json:"attachments"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("messages.history: %v", err)
	}
	if p.ChatID == nil {
		return nil, rpcerr.InvalidParams("messages.history: chat_id is required")
	}

	f, err := filter.Compile(buildFilterParams(p.Participants, p.Start, p.End))
	if err != nil {
		return nil, err
	}

	messages, err := d.deps.Store.MessagesByChat(ctx, *p.ChatID, clampLimit(p.Limit, 50))
	if err != nil {
		return nil, fmt.Errorf("messages by chat: %w", err)
	}

	includeExtras := p.Attachments != nil && *p.Attachments
	wireMsgs := []wireMessage{}
	for _, msg := range messages {
		if err := d.deps.Cache.Attach(ctx, &msg); err != nil {
			return nil, fmt.Errorf("attach chat context: %w", err)
		}
		if !f.Match(msg) {
			continue
		}
		wm, err := d.toWireMessage(ctx, msg, includeExtras)
		if err != nil {
			return nil, err
		}
		wireMsgs = append(wireMsgs, wm)
	}

	return map[string]any{"messages": wireMsgs}, nil
}

func handleWatchSubscribe(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		ChatID       *int64   `json:"chat_id"`
		SinceRowID   *int64   `json:"since_rowid"`
		Participants []string `json:"participants"`
		Start        *string  `json:"start"`
		End          *string  `json:"end"`
		Attachments  *bool    `json:"attachments"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("watch.subscribe: %v", err)
	}

	f, err := filter.Compile(buildFilterParams(p.Participants, p.Start, p.End))
	if err != nil {
		return nil, err
	}

	var sinceRowID int64
	if p.SinceRowID != nil {
		sinceRowID = *p.SinceRowID
	}
	watermark, err := d.deps.Watcher.InitialWatermark(ctx, sinceRowID)
	if err != nil {
		return nil, fmt.Errorf("resolve watermark: %w", err)
	}

	var chatFilter int64
	if p.ChatID != nil {
		chatFilter = *p.ChatID
	}
	includeExtras := p.Attachments != nil && *p.Attachments

	id, subCtx := d.subs.start(ctx)
	go d.runSubscriptionWorker(subCtx, id, watermark, chatFilter, f, includeExtras)

	return map[string]any{"subscription": id}, nil
}

func handleWatchUnsubscribe(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		Subscription *int64 `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("watch.unsubscribe: %v", err)
	}
	if p.Subscription == nil {
		return nil, rpcerr.InvalidParams("watch.unsubscribe: subscription is required")
	}

	d.subs.stop(*p.Subscription)
	return map[string]any{"ok": true}, nil
}

func handleSend(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		To             *string `json:"to"`
		ChatID         *int64  `json:"chat_id"`
		ChatIdentifier *string `json:"chat_identifier"`
		ChatGUID       *string `json:"chat_guid"`
		Text           *string `json:"text"`
		File           *string `json:"file"`
		Service        *string `json:"service"`
		Region         *string `json:"region"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("send: %v", err)
	}

	hasTo := p.To != nil && strings.TrimSpace(*p.To) != ""
	chatFields := 0
	if p.ChatID != nil {
		chatFields++
	}
	if p.ChatIdentifier != nil && strings.TrimSpace(*p.ChatIdentifier) != "" {
		chatFields++
	}
	if p.ChatGUID != nil && strings.TrimSpace(*p.ChatGUID) != "" {
		chatFields++
	}
	hasChatTarget := chatFields > 0

	switch {
	case hasTo && hasChatTarget:
		return nil, rpcerr.InvalidParams("send: specify either to or a chat target, not both")
	case !hasTo && !hasChatTarget:
		return nil, rpcerr.InvalidParams("send: to or a chat target is required")
	case chatFields > 1:
		return nil, rpcerr.InvalidParams("send: specify only one of chat_id, chat_identifier, chat_guid")
	}

	var text, file string
	if p.Text != nil {
		text = *p.Text
	}
	if p.File != nil {
		file = *p.File
	}
	if strings.TrimSpace(text) == "" && strings.TrimSpace(file) == "" {
		return nil, rpcerr.InvalidParams("send: text or file is required")
	}

	service := "auto"
	if p.Service != nil && *p.Service != "" {
		service = *p.Service
	}
	if service != "auto" && service != "imessage" && service != "sms" {
		return nil, rpcerr.InvalidParams("send: invalid service %q", service)
	}

	region := "US"
	if p.Region != nil && *p.Region != "" {
		region = *p.Region
	}

	opts := outbound.SendOptions{Text: text, File: file, Service: service, Region: region}
	switch {
	case hasTo:
		opts.To = *p.To
	case p.ChatID != nil:
		chat, err := d.deps.Cache.Get(ctx, *p.ChatID)
		if err != nil {
			return nil, classifyNotFound(err)
		}
		opts.ChatID = *p.ChatID
		opts.ChatIdentifier = chat.Identifier
		opts.ChatGUID = chat.GUID
	case p.ChatIdentifier != nil && strings.TrimSpace(*p.ChatIdentifier) != "":
		opts.ChatIdentifier = *p.ChatIdentifier
	case p.ChatGUID != nil && strings.TrimSpace(*p.ChatGUID) != "":
		opts.ChatGUID = *p.ChatGUID
	}

	if err := d.deps.Sender.SendMessage(ctx, opts); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return map[string]any{"ok": true}, nil
}

func handleReactionsSend(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		GUID           *string `json:"guid"`
		Reaction       *string `json:"reaction"`
		ChatID         *int64  `json:"chat_id"`
		ChatIdentifier *string `json:"chat_identifier"`
		ChatGUID       *string `json:"chat_guid"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("reactions.send: %v", err)
	}
	if p.GUID == nil || strings.TrimSpace(*p.GUID) == "" {
		return nil, rpcerr.InvalidParams("reactions.send: guid is required")
	}
	if p.Reaction == nil || strings.TrimSpace(*p.Reaction) == "" {
		return nil, rpcerr.InvalidParams("reactions.send: reaction is required")
	}

	kind, emoji := parseReaction(*p.Reaction)
	opts := outbound.ReactionOptions{MessageGUID: *p.GUID, Kind: string(kind), Emoji: emoji}

	switch {
	case p.ChatID != nil:
		chat, err := d.deps.Cache.Get(ctx, *p.ChatID)
		if err != nil {
			return nil, classifyNotFound(err)
		}
		opts.ChatIdentifier = chat.Identifier
		opts.ChatGUID = chat.GUID
	case p.ChatIdentifier != nil && *p.ChatIdentifier != "":
		opts.ChatIdentifier = *p.ChatIdentifier
	case p.ChatGUID != nil && *p.ChatGUID != "":
		opts.ChatGUID = *p.ChatGUID
	default:
		msg, err := d.deps.Store.Message(ctx, *p.GUID)
		if err != nil {
			return nil, classifyNotFound(err)
		}
		chat, err := d.deps.Cache.Get(ctx, msg.ChatID)
		if err != nil {
			return nil, classifyNotFound(err)
		}
		opts.ChatIdentifier = chat.Identifier
		opts.ChatGUID = chat.GUID
	}

	if err := d.deps.Sender.SendReaction(ctx, opts); err != nil {
		return nil, fmt.Errorf("send reaction: %w", err)
	}
	return map[string]any{"ok": true}, nil
}

func handleContactsSearch(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		Query *string `json:"query"`
		Limit *int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("contacts.search: %v", err)
	}
	if p.Query == nil || strings.TrimSpace(*p.Query) == "" {
		return nil, rpcerr.InvalidParams("contacts.search: query is required")
	}

	matches, err := d.deps.Contacts.Search(ctx, *p.Query, clampLimit(p.Limit, 10))
	if err != nil {
		if errors.Is(err, contacts.ErrUnauthorized) {
			return map[string]any{"matches": []wireContact{}, "warning": "contacts_unavailable"}, nil
		}
		return nil, fmt.Errorf("contacts search: %w", err)
	}

	return map[string]any{"matches": toWireContacts(matches)}, nil
}

func handleContactsResolve(ctx context.Context, d *dispatcher, raw json.RawMessage) (any, error) {
	var p struct {
		Handles []string `json:"handles"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcerr.InvalidParams("contacts.resolve: %v", err)
	}
	if len(p.Handles) == 0 {
		return nil, rpcerr.InvalidParams("contacts.resolve: handles must be non-empty")
	}

	resolved, err := d.deps.Contacts.Resolve(ctx, p.Handles)
	if err != nil {
		if errors.Is(err, contacts.ErrUnauthorized) {
			return map[string]any{"contacts": []wireContact{}, "warning": "contacts_unavailable"}, nil
		}
		return nil, fmt.Errorf("contacts resolve: %w", err)
	}

	return map[string]any{"contacts": toWireContacts(resolved)}, nil
}

func toWireContacts(in []contacts.Contact) []wireContact {
	out := make([]wireContact, len(in))
	for i, c := range in {
		out[i] = wireContact{Handle: c.Handle, DisplayName: c.DisplayName}
	}
	return out
}
