// Package worker runs the background enrichment loop: it drains the
// enrichment queue, looks up web context for each entity, and writes
// both the per-tab contextual description and the global entity
// fields, finally embedding enriched names so the cluster engine can
// use them for centroid computation. It opens no connections of its
// own: it works through the store, enricher and embedder passed to New,
// and cmd/tabgraphd passes it the same store and LLM provider that the
// HTTP request path uses.
package worker

import (
	"context"
	"time"

	"tabgraph/internal/embedding"
	"tabgraph/internal/enrichment"
	"tabgraph/internal/graph"
	"tabgraph/internal/logging"
	"tabgraph/internal/queue"
)

// Worker consumes enrichment tasks one at a time, fire-and-forget with
// respect to the caller: a failure on one entity is logged and
// skipped, never surfaced as an error from Run.
type Worker struct {
	store    graph.Store
	enricher enrichment.Enricher
	embedder embedding.Embedder
	cacheTTL time.Duration
}

func New(store graph.Store, enricher enrichment.Enricher, embedder embedding.Embedder, cacheTTL time.Duration) *Worker {
	return &Worker{store: store, enricher: enricher, embedder: embedder, cacheTTL: cacheTTL}
}

// Run blocks, consuming tasks from consumer until ctx is canceled.
func (w *Worker) Run(ctx context.Context, consumer queue.Consumer) error {
	return consumer.Run(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, task queue.EnrichmentTask) error {
	log := logging.From(ctx)

	stale, err := w.store.NeedsEnrichment(ctx, task.EntityID, w.cacheTTL)
	if err != nil {
		return err
	}
	if !stale {
		log.Debug().Int64("entity_id", task.EntityID).Msg("entity already fresh, skipping enrichment")
		return nil
	}

	result := w.enricher.Enrich(ctx, task.EntityName, enrichment.Context{
		TabID:           task.TabID,
		TabURL:          task.TabURL,
		TabTitle:        task.TabTitle,
		TabSummary:      task.TabSummary,
		RelatedEntities: task.RelatedEntities,
	})
	if !result.IsEnriched {
		log.Warn().Int64("entity_id", task.EntityID).Str("entity", task.EntityName).Msg("enrichment produced no usable description")
		return nil
	}

	// Per-(entity,tab) context preserves this page's specific meaning;
	// the global fields are overwritten unconditionally by whichever
	// enrichment runs last, a deliberate simplicity/accuracy tradeoff.
	if task.TabID != 0 {
		if err := w.store.SaveEntityTabContext(ctx, task.EntityID, task.TabID, result.Description); err != nil {
			log.Error().Err(err).Int64("entity_id", task.EntityID).Msg("saving entity-tab context failed")
		}
	}
	if err := w.store.UpdateEntityEnrichment(ctx, task.EntityID, result.Description, result.RelatedConcepts, "", result.EntityType); err != nil {
		log.Error().Err(err).Int64("entity_id", task.EntityID).Msg("updating entity enrichment failed")
	}

	vectors, err := w.embedder.EmbedBatch(ctx, []string{task.EntityName})
	if err != nil || len(vectors) == 0 {
		log.Warn().Err(err).Int64("entity_id", task.EntityID).Msg("embedding enriched entity name failed")
		return nil
	}
	if err := w.store.UpdateEntityEmbedding(ctx, task.EntityID, vectors[0]); err != nil {
		log.Error().Err(err).Int64("entity_id", task.EntityID).Msg("saving entity embedding failed")
	}
	return nil
}

// RunBatch performs a one-shot enrichment pass over a fixed set of
// tasks, mirroring the non-queue invocation style described for the
// background worker: each task is handled exactly as a queued one
// would be, so a task whose entity is still fresh under the cache TTL
// is skipped. Used by the re-enrich HTTP endpoint, which
// builds its task list directly from (entity, tab) pairs lacking
// context rather than waiting on the queue.
func (w *Worker) RunBatch(ctx context.Context, tasks []queue.EnrichmentTask) {
	log := logging.From(ctx)
	for _, task := range tasks {
		if err := w.handle(ctx, task); err != nil {
			log.Error().Err(err).Str("entity", task.EntityName).Msg("batch enrichment task failed")
		}
	}
}
