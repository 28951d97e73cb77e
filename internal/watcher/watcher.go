// Package watcher produces a lazy, cancellable stream of newly-appended
// messages from chat.db, polling with an exponential-backoff row-id
// watermark since the database exposes no trigger or change-feed API.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/imrpcd/imrpcd/internal/model"
)

// Source is the subset of the store the watcher polls.
type Source interface {
	MessagesAfter(ctx context.Context, afterRowID int64, chatIDFilter int64, limit int) ([]model.Message, error)
	MaxRowID(ctx context.Context) (int64, error)
}

// Config holds the watcher's poll cadence and batch cap.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BatchSize       int
}

// DefaultConfig returns the default cadence: 500ms initial interval, 5s
// maximum interval, 200-row batch cap.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		BatchSize:       200,
	}
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// Watcher polls a Source for newly-appended messages.
type Watcher struct {
	source Source
	config Config
}

// New returns a Watcher over source using the given config (zero-value
// fields fall back to the defaults).
func New(source Source, config Config) *Watcher {
	return &Watcher{source: source, config: config.withDefaults()}
}

// InitialWatermark resolves the starting row id for a new subscription:
// sinceRowID if the caller supplied one (> 0), otherwise the current max
// row id so only messages appended after subscribe time are streamed.
func (w *Watcher) InitialWatermark(ctx context.Context, sinceRowID int64) (int64, error) {
	if sinceRowID > 0 {
		return sinceRowID, nil
	}
	max, err := w.source.MaxRowID(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve initial watermark: %w", err)
	}
	return max, nil
}

// Stream polls for messages above watermark for chatFilter (0 = all chats)
// and sends batches on the returned channel in ascending row-id order,
// advancing an internal watermark as it goes. It stops and closes the
// channel when ctx is cancelled or the source returns an error, writing the
// error (if any) to errs before closing. Suspension points — polling and
// sleeping between polls — are cancellable at their next boundary.
func (w *Watcher) Stream(ctx context.Context, watermark int64, chatFilter int64) (<-chan []model.Message, <-chan error) {
	out := make(chan []model.Message)
	errs := make(chan error, 1)

	go func() {
		defer close(out)

		interval := w.config.InitialInterval

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			messages, err := w.source.MessagesAfter(ctx, watermark, chatFilter, w.config.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("poll messages: %w", err)
				return
			}

			if len(messages) > 0 {
				watermark = messages[len(messages)-1].ID
				interval = w.config.InitialInterval

				select {
				case out <- messages:
				case <-ctx.Done():
					return
				}
				continue
			}

			interval = doubleCapped(interval, w.config.MaxInterval)

			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

// doubleCapped doubles interval up to max: exponential backoff with a
// ceiling.
func doubleCapped(interval, max time.Duration) time.Duration {
	next := interval * 2
	if next > max {
		return max
	}
	return next
}
