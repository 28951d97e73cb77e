package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrpcd/imrpcd/internal/chatcache"
	"github.com/imrpcd/imrpcd/internal/contacts"
	"github.com/imrpcd/imrpcd/internal/outbound"
	"github.com/imrpcd/imrpcd/internal/rpcerr"
	"github.com/imrpcd/imrpcd/internal/watcher"
)

// Deps wires the dispatcher to the store, cache, watcher, and the two
// platform-bound collaborators. Every field is required.
type Deps struct {
	Store    Store
	Cache    *chatcache.Cache
	Watcher  *watcher.Watcher
	Sender   outbound.Sender
	Contacts contacts.Directory
}

type handlerFunc func(ctx context.Context, d *dispatcher, params json.RawMessage) (any, error)

var handlers = map[string]handlerFunc{
	"chats.list":        handleChatsList,
	"messages.history":  handleMessagesHistory,
	"watch.subscribe":   handleWatchSubscribe,
	"watch.unsubscribe": handleWatchUnsubscribe,
	"send":              handleSend,
	"reactions.send":    handleReactionsSend,
	"contacts.search":   handleContactsSearch,
	"contacts.resolve":  handleContactsResolve,
}

// dispatcher validates and routes JSON-RPC request frames, and owns the
// subscription table and output writer that method handlers write
// notifications through.
type dispatcher struct {
	deps Deps
	subs *subscriptionManager
	out  *frameWriter
}

func newDispatcher(deps Deps, out *frameWriter) *dispatcher {
	return &dispatcher{deps: deps, subs: newSubscriptionManager(), out: out}
}

// dispatch runs the seven-step validation-and-invocation sequence over one
// parsed frame. It returns nil when the frame was a notification whose
// handler succeeded (no response is sent), or the response to write
// otherwise.
func (d *dispatcher) dispatch(ctx context.Context, frame []byte) *response {
	var probe any
	if err := json.Unmarshal(frame, &probe); err != nil {
		resp := errorResponse(nil, codeParseError, "parse error: "+err.Error())
		return &resp
	}
	if _, ok := probe.(map[string]any); !ok {
		resp := errorResponse(nil, codeInvalidRequest, "request must be a JSON object")
		return &resp
	}

	var raw rawRequest
	if err := json.Unmarshal(frame, &raw); err != nil {
		resp := errorResponse(nil, codeInvalidRequest, "malformed request object")
		return &resp
	}

	isNotification := raw.ID == nil

	if len(raw.JSONRPC) > 0 {
		var version string
		if err := json.Unmarshal(raw.JSONRPC, &version); err != nil || version != protocolVersion {
			resp := errorResponse(nullIfAbsent(raw.ID), codeInvalidRequest, `"jsonrpc" must be "2.0"`)
			return &resp
		}
	}

	var method string
	if len(raw.Method) > 0 {
		_ = json.Unmarshal(raw.Method, &method)
	}
	if method == "" {
		resp := errorResponse(nullIfAbsent(raw.ID), codeInvalidRequest, "method is required")
		return &resp
	}

	handler, ok := handlers[method]
	if !ok {
		resp := errorResponse(nullIfAbsent(raw.ID), codeMethodNotFound, fmt.Sprintf("method not found: %s", method))
		return &resp
	}

	params := raw.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	result, err := handler(ctx, d, params)
	if err != nil {
		code := codeInternalError
		if rpcerr.IsInvalidParams(err) {
			code = codeInvalidParams
		}
		resp := errorResponse(nullIfAbsent(raw.ID), code, err.Error())
		return &resp
	}

	if isNotification {
		return nil
	}

	resp := resultResponse(raw.ID, result)
	return &resp
}

func nullIfAbsent(id json.RawMessage) json.RawMessage {
	if id == nil {
		return nullID
	}
	return id
}
