// Package audit writes the append-only verification audit trail and serves
// searches over it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verification-service/internal/model"
	"verification-service/internal/store"
	"verification-service/internal/util"
)

// Recorder fans one audit entry out to the durable ledger and the search
// index. Record returns only after the ledger write has settled, so callers
// can rely on the entry existing before they answer the client.
type Recorder struct {
	ledger  store.AuditStore
	indexer *Indexer // nil when Elasticsearch is disabled
}

func NewRecorder(ledger store.AuditStore, indexer *Indexer) *Recorder {
	return &Recorder{
		ledger:  ledger,
		indexer: indexer,
	}
}

// Record assigns the entry an ID and timestamp when absent, then writes it.
// The ledger write is authoritative; index failures are logged and dropped.
func (r *Recorder) Record(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.ledger.Append(gctx, entry)
	})

	if r.indexer != nil {
		g.Go(func() error {
			if err := r.indexer.Index(gctx, entry); err != nil {
				util.Warn("Failed to index audit entry",
					zap.String("entry_id", entry.ID),
					zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		util.Error("Failed to record audit entry",
			zap.String("entry_id", entry.ID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return err
	}

	util.Debug("Audit entry recorded",
		zap.String("entry_id", entry.ID),
		zap.String("action", string(entry.Action)),
		zap.String("outcome", string(entry.Outcome)))
	return nil
}
