package projection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethosengine/doorway/pkg/contracts"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/rs/zerolog/log"
)

// Engine consumes post-commit signals and maintains both store tiers
// (spec.md §4.5), adapted from the teacher's workflow.Engine dispatch-loop
// shape: a buffered channel feeding a goroutine, a done channel for
// broadcast shutdown, and panic/error-absorbing step execution.
type Engine struct {
	tier1 *MemoryStore
	tier2 contracts.DurableStore // nil is valid: tier 2 is optional (spec.md §9)

	invalidate func(ctx context.Context, pattern string) error

	signals chan models.Signal
	done    chan struct{}
}

// NewEngine builds an Engine. invalidate is called for every pattern in a
// signal's Invalidates list, after the primary write (spec.md §4.5); it is
// typically internal/cache's invalidation hook wired to the REST byte cache.
func NewEngine(tier1 *MemoryStore, tier2 contracts.DurableStore, invalidate func(ctx context.Context, pattern string) error) *Engine {
	return &Engine{
		tier1:      tier1,
		tier2:      tier2,
		invalidate: invalidate,
		signals:    make(chan models.Signal, 256),
		done:       make(chan struct{}),
	}
}

// Submit enqueues a signal for processing. Signals from a single conductor
// are processed in the order submitted (spec.md §5); across conductors no
// ordering is guaranteed, so callers should use one Engine per conductor's
// receive loop or otherwise serialize per-conductor submission.
func (e *Engine) Submit(sig models.Signal) {
	select {
	case e.signals <- sig:
	case <-e.done:
	}
}

// Run is the dispatch loop. It exits when Shutdown is called, draining any
// already-queued signals first.
func (e *Engine) Run(ctx context.Context) {
	if e.tier1 != nil {
		go e.tier1.expireSweeper(ctx, 30*time.Second)
	}
	for {
		select {
		case sig := <-e.signals:
			e.process(ctx, sig)
		case <-e.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case sig := <-e.signals:
					e.process(ctx, sig)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown broadcasts the drain-and-exit signal to Run (spec.md §4.5).
func (e *Engine) Shutdown() {
	close(e.done)
}

// process applies one signal. Failures are logged, never propagated — a
// malformed or backend-failing signal must not crash ingestion (spec.md §4.5).
func (e *Engine) process(ctx context.Context, sig models.Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("doc_type", sig.DocType).Msg("projection engine recovered from panic processing signal")
		}
	}()

	switch sig.Action {
	case "commit", "update":
		e.applyCommit(ctx, sig)
	case "delete":
		e.applyDelete(ctx, sig)
	case "update_endpoints":
		e.applyUpdateEndpoints(ctx, sig)
	default:
		log.Warn().Str("action", sig.Action).Msg("projection engine: unknown signal action, ignoring")
		return
	}

	for _, pattern := range sig.Invalidates {
		if e.invalidate == nil {
			continue
		}
		if err := e.invalidate(ctx, pattern); err != nil {
			log.Error().Err(err).Str("pattern", pattern).Msg("projection engine: invalidation failed")
		}
	}
}

func (e *Engine) applyCommit(ctx context.Context, sig models.Signal) {
	doc := &models.ProjectedDocument{
		DocType:      sig.DocType,
		ID:           sig.ID,
		Data:         sig.Data,
		ActionHash:   sig.ActionHash,
		EntryHash:    sig.EntryHash,
		Author:       sig.Author,
		SearchTokens: sig.SearchTokens,
	}
	if sig.TTLSecs != nil {
		expiry := time.Now().Add(time.Duration(*sig.TTLSecs) * time.Second)
		doc.TTLExpiresAt = &expiry
	}

	if err := e.tier1.Upsert(ctx, doc); err != nil {
		log.Error().Err(err).Msg("projection engine: tier1 upsert failed")
	}
	if e.tier2 != nil {
		if err := e.tier2.Upsert(ctx, doc); err != nil {
			log.Error().Err(err).Msg("projection engine: tier2 upsert failed")
		}
	}
}

func (e *Engine) applyDelete(ctx context.Context, sig models.Signal) {
	if err := e.tier1.Delete(ctx, sig.DocType, sig.ID); err != nil {
		log.Error().Err(err).Msg("projection engine: tier1 delete failed")
	}
	if e.tier2 != nil {
		if err := e.tier2.Delete(ctx, sig.DocType, sig.ID); err != nil {
			log.Error().Err(err).Msg("projection engine: tier2 delete failed")
		}
	}
}

// applyUpdateEndpoints expects sig.Data to be a JSON array of endpoint URLs
// and sig.ID to hold the blob_hash (spec.md §4.5).
func (e *Engine) applyUpdateEndpoints(ctx context.Context, sig models.Signal) {
	var endpoints []string
	switch v := sig.Data.(type) {
	case []string:
		endpoints = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				endpoints = append(endpoints, s)
			}
		}
	case json.RawMessage:
		_ = json.Unmarshal(v, &endpoints)
	}

	count, err := e.tier1.UpdateBlobEndpoints(ctx, sig.ID, endpoints)
	if err != nil {
		log.Error().Err(err).Msg("projection engine: tier1 update_endpoints failed")
	}
	if e.tier2 != nil {
		if _, err := e.tier2.UpdateBlobEndpoints(ctx, sig.ID, endpoints); err != nil {
			log.Error().Err(err).Msg("projection engine: tier2 update_endpoints failed")
		}
	}
	log.Debug().Str("blob_hash", sig.ID).Int("updated", count).Msg("blob endpoints updated")
}

// Get reads from tier 1 first; a miss falls through to tier 2 if present.
func (e *Engine) Get(ctx context.Context, docType, id string) (*models.ProjectedDocument, error) {
	doc, err := e.tier1.Get(ctx, docType, id)
	if err == nil {
		return doc, nil
	}
	if e.tier2 == nil {
		return nil, err
	}
	return e.tier2.Get(ctx, docType, id)
}

// Query reads from tier 1. Tier 2 is the recovery/reader-replica path
// (spec.md §4.5), not consulted on the hot read path.
func (e *Engine) Query(ctx context.Context, docType string, limit int) ([]*models.ProjectedDocument, error) {
	return e.tier1.QueryByType(ctx, docType, limit)
}

// FindByBlobHash locates the projected document carrying blobHash, used to
// build a ShardManifest for the blob shard resolver (spec.md §4.8).
func (e *Engine) FindByBlobHash(ctx context.Context, blobHash string) (*models.ProjectedDocument, bool) {
	return e.tier1.FindByBlobHash(ctx, blobHash)
}
