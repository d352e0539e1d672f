package lolo

import (
	"context"
	"log/slog"
	"time"
)

// Backfill defaults: sweep every 15 minutes, leave very recent rows
// alone so in-flight conversations settle first.
const (
	BackfillInterval = 15 * time.Minute
	BackfillDelay    = 30 * time.Second
	BackfillBatch    = 500
)

// MessageIndexer is the vector-index side of the backfill job. The job
// is the only writer of message embeddings.
type MessageIndexer interface {
	// LastIndexedID returns the highest message id already embedded, or
	// zero for an empty index.
	LastIndexedID(ctx context.Context) (int64, error)
	IndexMessages(ctx context.Context, msgs []Message) error
}

// Backfiller periodically embeds new chat messages into the vector
// index. Restart-safe: progress is derived from the index itself, and
// re-indexing a row is an idempotent upsert.
type Backfiller struct {
	store    Store
	index    MessageIndexer
	interval time.Duration
	delay    time.Duration
	log      *slog.Logger
}

// NewBackfiller creates the job with default timing.
func NewBackfiller(store Store, index MessageIndexer, log *slog.Logger) *Backfiller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Backfiller{
		store:    store,
		index:    index,
		interval: BackfillInterval,
		delay:    BackfillDelay,
		log:      log,
	}
}

// Run sweeps until ctx is cancelled, waiting out the settle delay
// before the first sweep so startup writes land first. Errors are
// logged per tick, never fatal.
func (b *Backfiller) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(b.delay):
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if n, err := b.Sweep(ctx); err != nil {
			b.log.Error("message backfill sweep failed", "error", err)
		} else if n > 0 {
			b.log.Info("message backfill sweep", "indexed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep indexes every message newer than the checkpoint and older than
// the settle delay. Returns the number of messages indexed.
func (b *Backfiller) Sweep(ctx context.Context) (int, error) {
	last, err := b.index.LastIndexedID(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := NowUTC().Add(-b.delay)
	indexed := 0
	for {
		msgs, err := b.store.MessagesAfter(ctx, last, BackfillBatch)
		if err != nil {
			return indexed, err
		}
		var batch []Message
		done := len(msgs) < BackfillBatch
		for _, m := range msgs {
			if m.Timestamp.After(cutoff) {
				done = true
				break
			}
			batch = append(batch, m)
			last = m.ID
		}
		if len(batch) > 0 {
			if err := b.index.IndexMessages(ctx, batch); err != nil {
				return indexed, err
			}
			indexed += len(batch)
		}
		if done {
			return indexed, nil
		}
	}
}
