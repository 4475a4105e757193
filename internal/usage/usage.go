// Package usage records one ledger row per AI request attempt.
//
// Recording is best-effort from the caller's point of view: a failed
// ledger write never fails the request. Failed rows are spooled to a
// local sqlite file and replayed in the background, so budget accounting
// recovers once Postgres is reachable again.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/strataops/strata/internal/model"
)

// Writer is the ledger sink, satisfied by storage.DB.
type Writer interface {
	InsertUsageEntry(ctx context.Context, e model.UsageEntry) error
}

// Logger writes usage entries with spooled retry.
type Logger struct {
	writer Writer
	spool  *Spool
	logger *slog.Logger
}

// New creates a Logger. spool may be nil, in which case failed writes are
// dropped after logging.
func New(writer Writer, spool *Spool, logger *slog.Logger) *Logger {
	return &Logger{writer: writer, spool: spool, logger: logger}
}

// Record writes one terminal ledger row. Errors are swallowed: the row is
// spooled for replay when possible and logged either way. The write uses
// its own timeout, detached from the request context, so a cancelled
// request still gets its row.
func (l *Logger) Record(e model.UsageEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.writer.InsertUsageEntry(ctx, e); err == nil {
		return
	} else if l.spool == nil {
		l.logger.Error("usage: ledger write failed, row dropped",
			"request_id", e.RequestID, "error", err)
		return
	} else if spoolErr := l.spool.Enqueue(e); spoolErr != nil {
		l.logger.Error("usage: ledger write and spool both failed, row dropped",
			"request_id", e.RequestID, "error", err, "spool_error", spoolErr)
		return
	} else {
		l.logger.Warn("usage: ledger write failed, row spooled",
			"request_id", e.RequestID, "error", err)
	}
}

// StartReplay launches the background loop that drains the spool into the
// ledger. It returns immediately; the loop stops when ctx is cancelled.
func (l *Logger) StartReplay(ctx context.Context, interval time.Duration) {
	if l.spool == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.replayOnce(ctx)
			}
		}
	}()
}

func (l *Logger) replayOnce(ctx context.Context) {
	const batch = 100
	entries, ids, err := l.spool.Dequeue(batch)
	if err != nil {
		l.logger.Error("usage: spool read failed", "error", err)
		return
	}
	for i, e := range entries {
		if err := l.writer.InsertUsageEntry(ctx, e); err != nil {
			// Ledger still down; stop and retry the remainder next tick.
			return
		}
		if err := l.spool.Delete(ids[i]); err != nil {
			l.logger.Error("usage: spool delete failed", "id", ids[i], "error", err)
			return
		}
	}
	if len(entries) > 0 {
		l.logger.Info("usage: replayed spooled rows", "count", len(entries))
	}
}
