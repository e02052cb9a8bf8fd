package fulltext

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/resource"
)

// Start loads persisted entries, subscribes to store writes and, when
// AutoSave is set, flushes pending changes on that interval.
func (ix *Index) Start(ctx context.Context) error {
	ix.lifeMu.Lock()
	defer ix.lifeMu.Unlock()
	if ix.unsubscribe != nil {
		return fmt.Errorf("fulltext index already started")
	}
	if err := ix.LoadIndexes(ctx); err != nil {
		return err
	}
	ix.unsubscribe = ix.store.OnAfterWrite(ix.handleWrite)

	if ix.cfg.AutoSave > 0 {
		saveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		ix.stopSave = cancel
		ix.saveDone = make(chan struct{})
		go ix.autoSave(saveCtx, ix.cfg.AutoSave, ix.saveDone)
	}
	return nil
}

// Stop unsubscribes, halts auto-save and flushes pending changes.
func (ix *Index) Stop(ctx context.Context) error {
	ix.lifeMu.Lock()
	defer ix.lifeMu.Unlock()
	if ix.unsubscribe != nil {
		ix.unsubscribe()
		ix.unsubscribe = nil
	}
	if ix.stopSave != nil {
		ix.stopSave()
		<-ix.saveDone
		ix.stopSave = nil
		ix.saveDone = nil
	}
	if err := ix.SaveIndexes(ctx); err != nil {
		return fmt.Errorf("flush indexes on stop: %w", err)
	}
	return nil
}

func (ix *Index) autoSave(ctx context.Context, every time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.SaveIndexes(ctx); err != nil {
				ix.logger.Warn("fulltext auto-save failed", zap.Error(err))
			}
		}
	}
}

// handleWrite keeps the index in step with the store. Writes to a resource
// being rebuilt are held and replayed once the rebuild finishes.
func (ix *Index) handleWrite(_ context.Context, ev resource.Event) error {
	if ix.Excluded(ev.Resource) {
		return nil
	}
	switch ev.Op {
	case resource.OpInsert, resource.OpUpdate, resource.OpDelete:
	default:
		return fmt.Errorf("unknown write op %q", ev.Op)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if pending, ok := ix.held[ev.Resource]; ok {
		ix.held[ev.Resource] = append(pending, ev)
		return nil
	}
	ix.applyLocked(ev)
	ix.reportPendingLocked()
	return nil
}

func (ix *Index) applyLocked(ev resource.Event) {
	switch ev.Op {
	case resource.OpInsert:
		if ev.ID != "" {
			ix.indexLocked(ev.Resource, ev.ID, ev.Record)
		}
		metrics.ObserveIndexOperation(ev.Resource, "index")
	case resource.OpUpdate:
		if ev.ID != "" {
			ix.removeLocked(ev.Resource, ev.ID)
			ix.indexLocked(ev.Resource, ev.ID, ev.Record)
		}
		metrics.ObserveIndexOperation(ev.Resource, "reindex")
	case resource.OpDelete:
		ix.removeLocked(ev.Resource, ev.ID)
		metrics.ObserveIndexOperation(ev.Resource, "remove")
	}
}
