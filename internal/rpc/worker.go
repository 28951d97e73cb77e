package rpc

import (
	"context"
	"errors"

	"github.com/imrpcd/imrpcd/internal/filter"
)

// runSubscriptionWorker drains the watcher stream for one subscription
// through f, writing a "message" notification per matching row in
// ascending row-id order. Any downstream failure is converted to a single
// "error" notification before the worker exits; cancellation (unsubscribe,
// reader EOF) exits silently.
func (d *dispatcher) runSubscriptionWorker(ctx context.Context, id int64, watermark int64, chatFilter int64, f *filter.Filter, includeExtras bool) {
	batches, errs := d.deps.Watcher.Stream(ctx, watermark, chatFilter)

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				select {
				case err := <-errs:
					if err != nil {
						d.emitSubscriptionError(id, err)
					}
				default:
				}
				return
			}
			for _, msg := range batch {
				if err := d.deps.Cache.Attach(ctx, &msg); err != nil {
					d.emitSubscriptionError(id, err)
					return
				}
				if !f.Match(msg) {
					continue
				}
				wm, err := d.toWireMessage(ctx, msg, includeExtras)
				if err != nil {
					d.emitSubscriptionError(id, err)
					return
				}
				if err := d.out.write(notification("message", map[string]any{"subscription": id, "message": wm})); err != nil {
					return
				}
			}
		}
	}
}

func (d *dispatcher) emitSubscriptionError(id int64, err error) {
	_ = d.out.write(notification("error", map[string]any{
		"subscription": id,
		"error": map[string]any{
			"message": err.Error(),
			"code":    classifySubscriptionError(err),
		},
	}))
}

// classifySubscriptionError maps a worker failure to a stable code:
// "cancelled" for context cancellation, "db_error" for everything else a
// subscription worker can fail on (the watcher and chat cache only ever
// surface store/SQL failures).
func classifySubscriptionError(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "db_error"
}
