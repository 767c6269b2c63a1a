// Package ingestion orchestrates one ingest call: intake the caller's
// full open-tab snapshot, reconcile closures against the graph store,
// fill in missing embeddings and entities, assign every tab to a
// cluster, and hand off enrichment to the background worker without
// blocking the response.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tabgraph/internal/audit"
	"tabgraph/internal/cluster"
	"tabgraph/internal/dedup"
	"tabgraph/internal/embedding"
	"tabgraph/internal/entities"
	"tabgraph/internal/graph"
	"tabgraph/internal/logging"
	"tabgraph/internal/metadata"
	"tabgraph/internal/queue"
)

// Clock abstracts time so ingest timing is testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Metrics is a minimal counters/histograms seam. NoopMetrics is the only
// implementation in the module, and cmd/tabgraphd keeps that default.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)                {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}

// InputTab is one tab as the caller reports it, optionally carrying a
// cached embedding and entity list from a previous ingest's response.
type InputTab struct {
	ID              int64
	URL             string
	Title           string
	FaviconURL      string
	Summary         string
	WindowID        *int64
	GroupID         *int64
	Important       bool
	OpenedAt        time.Time
	LastAccessed    time.Time
	CachedEmbedding []float32
	CachedEntities  []string
}

// TabCache is the per-tab cache payload handed back so the caller can
// skip embedding and extraction on the next ingest.
type TabCache struct {
	ID        int64
	Embedding []float32
	Entities  []string
}

// Result is the outcome of one Ingest call.
type Result struct {
	Status        string
	Processed     int
	ImportantTabs int
	SessionID     string
	TabData       []TabCache
}

// Pipeline ties the embedding, extraction, clustering, graph and queue
// components together into the ordered ingest steps.
type Pipeline struct {
	store     graph.Store
	embedder  embedding.Embedder
	extractor entities.Extractor
	engine    *cluster.Engine
	namer     cluster.Namer
	metadata  metadata.Provider
	producer  queue.Producer
	dedup     dedup.Cache
	audit     *audit.Log

	clock            Clock
	metrics          Metrics
	enrichmentWindow time.Duration
}

// Option configures a Pipeline during construction.
type Option func(*Pipeline)

func WithClock(c Clock) Option           { return func(p *Pipeline) { p.clock = c } }
func WithMetrics(m Metrics) Option       { return func(p *Pipeline) { p.metrics = m } }
func WithMetadataProvider(m metadata.Provider) Option {
	return func(p *Pipeline) { p.metadata = m }
}
func WithEnrichmentDedupWindow(d time.Duration) Option {
	return func(p *Pipeline) { p.enrichmentWindow = d }
}
func WithAuditLog(a *audit.Log) Option { return func(p *Pipeline) { p.audit = a } }

// New builds a Pipeline. store, embedder, extractor, engine, namer,
// producer and dedup are required collaborators; everything else has a
// sane default applied via Option.
func New(store graph.Store, embedder embedding.Embedder, extractor entities.Extractor, engine *cluster.Engine, namer cluster.Namer, producer queue.Producer, cache dedup.Cache, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:            store,
		embedder:         embedder,
		extractor:        extractor,
		engine:           engine,
		namer:            namer,
		producer:         producer,
		dedup:            cache,
		clock:            SystemClock{},
		metrics:          NoopMetrics{},
		enrichmentWindow: time.Hour,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ingest runs the full pipeline against batch, the caller's complete
// current set of open tabs.
func (p *Pipeline) Ingest(ctx context.Context, batch []InputTab, ingestedAt time.Time) (Result, error) {
	log := logging.From(ctx)
	started := p.clock.Now()
	if ingestedAt.IsZero() {
		ingestedAt = started
	}

	closedCount, deletedClusters, err := p.reconcile(ctx, batch)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: reconcile: %w", err)
	}

	missingEmbed, missingExtract := p.splitCacheMisses(batch)
	p.metrics.IncCounter("ingest.tabs", map[string]string{})
	log.Debug().Int("total", len(batch)).Int("missing_embeddings", len(missingEmbed)).Int("missing_entities", len(missingExtract)).Msg("ingest intake complete")

	var embeddings [][]float32
	var extracted [][]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(missingEmbed) == 0 {
			return nil
		}
		texts := make([]string, len(missingEmbed))
		for i, t := range missingEmbed {
			texts[i] = t.Title + "\n" + t.Summary
		}
		var err error
		embeddings, err = p.embedder.EmbedBatch(gctx, texts)
		return err
	})
	g.Go(func() error {
		if len(missingExtract) == 0 {
			return nil
		}
		in := make([]entities.Tab, len(missingExtract))
		for i, t := range missingExtract {
			in[i] = entities.Tab{ID: t.ID, URL: t.URL, Title: t.Title, Summary: t.Summary}
		}
		var err error
		extracted, err = p.extractor.ExtractBatch(gctx, in)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("ingestion: batch embed/extract: %w", err)
	}

	clusterTabs := p.buildClusterTabs(ctx, batch, missingEmbed, embeddings, missingExtract, extracted)

	batchResult, err := p.engine.ProcessBatch(ctx, clusterTabs)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: cluster assign: %w", err)
	}

	p.nameNewClusters(ctx, batchResult)
	p.enqueueEnrichment(ctx, batchResult, clusterTabs)

	var important, created int
	tabData := make([]TabCache, 0, len(clusterTabs))
	for _, t := range clusterTabs {
		if t.Important {
			important++
		}
		tabData = append(tabData, TabCache{ID: t.ID, Embedding: t.Embedding, Entities: t.Entities})
	}
	for _, a := range batchResult.Assignments {
		if a.CreatedNew {
			created++
		}
	}

	if p.audit != nil {
		if err := p.audit.Record(ctx, audit.IngestRecord{
			Timestamp:            ingestedAt,
			TabCount:             len(batch),
			EmbeddingCacheHits:   len(batch) - len(missingEmbed),
			EmbeddingCacheMisses: len(missingEmbed),
			EntityCacheHits:      len(batch) - len(missingExtract),
			EntityCacheMisses:    len(missingExtract),
			ClustersCreated:      created,
			ClustersRenamed:      len(batchResult.PendingRename),
			ClustersDeleted:      deletedClusters,
			Duration:             p.clock.Now().Sub(started),
		}); err != nil {
			log.Warn().Err(err).Msg("writing ingest audit record failed")
		}
	}
	log.Debug().Int("closed", closedCount).Int("clusters_deleted", deletedClusters).Msg("ingest reconcile summary")

	return Result{
		Status:        "ok",
		Processed:     len(batch),
		ImportantTabs: important,
		SessionID:     uuid.NewString(),
		TabData:       tabData,
	}, nil
}

// reconcile closes tabs the store still has marked active but that are
// absent from this ingest's batch, detaches them from the cluster
// engine, then sweeps orphaned entities left with no remaining tab. It
// returns the number of tabs closed and clusters deleted as a result,
// for the audit log.
func (p *Pipeline) reconcile(ctx context.Context, batch []InputTab) (closed, clustersDeleted int, err error) {
	log := logging.From(ctx)
	active := make(map[int64]struct{}, len(batch))
	for _, t := range batch {
		active[t.ID] = struct{}{}
	}

	storedActive, err := p.store.ListActiveTabs(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, t := range storedActive {
		if _, ok := active[t.ID]; ok {
			continue
		}
		if err := p.store.CloseTab(ctx, t.ID); err != nil {
			return closed, clustersDeleted, err
		}
		closed++
		if _, deleted := p.engine.Detach(ctx, t.ID); deleted {
			clustersDeleted++
		}
	}

	removed, err := p.store.RemoveOrphanedEntities(ctx)
	if err != nil {
		return closed, clustersDeleted, err
	}
	if removed > 0 {
		log.Debug().Int("count", removed).Msg("removed orphaned entities")
	}
	return closed, clustersDeleted, nil
}

func (p *Pipeline) splitCacheMisses(batch []InputTab) (missingEmbed, missingExtract []InputTab) {
	for _, t := range batch {
		if len(t.CachedEmbedding) == 0 {
			missingEmbed = append(missingEmbed, t)
		}
		if len(t.CachedEntities) == 0 {
			missingExtract = append(missingExtract, t)
		}
	}
	return
}

func (p *Pipeline) buildClusterTabs(ctx context.Context, batch []InputTab, missingEmbed []InputTab, embeddings [][]float32, missingExtract []InputTab, extracted [][]string) []cluster.Tab {
	embedByID := make(map[int64][]float32, len(missingEmbed))
	for i, t := range missingEmbed {
		if i < len(embeddings) {
			embedByID[t.ID] = embeddings[i]
		}
	}
	entitiesByID := make(map[int64][]string, len(missingExtract))
	for i, t := range missingExtract {
		if i < len(extracted) {
			entitiesByID[t.ID] = extracted[i]
		}
	}

	out := make([]cluster.Tab, len(batch))
	for i, t := range batch {
		emb := t.CachedEmbedding
		if emb == nil {
			emb = embedByID[t.ID]
		}
		ents := t.CachedEntities
		if ents == nil {
			ents = entitiesByID[t.ID]
		}

		label, source, displayLabel := t.Title, "", ""
		if p.metadata != nil {
			md := p.metadata.Generate(ctx, t.Title, t.URL)
			label, source, displayLabel = md.Label, md.Source, md.DisplayLabel
		} else {
			md := metadata.Fallback(t.Title, t.URL)
			label, source, displayLabel = md.Label, md.Source, md.DisplayLabel
		}

		out[i] = cluster.Tab{
			ID:           t.ID,
			URL:          t.URL,
			Title:        t.Title,
			FaviconURL:   t.FaviconURL,
			Summary:      t.Summary,
			Label:        label,
			Source:       source,
			DisplayLabel: displayLabel,
			Entities:     ents,
			Embedding:    emb,
			WindowID:     t.WindowID,
			GroupID:      t.GroupID,
			Important:    t.Important,
			OpenedAt:     t.OpenedAt,
			LastAccessed: t.LastAccessed,
		}
	}
	return out
}

func (p *Pipeline) nameNewClusters(ctx context.Context, result cluster.BatchResult) {
	log := logging.From(ctx)
	for _, c := range append(append([]*cluster.Cluster{}, result.PendingNaming...), result.PendingRename...) {
		name, err := p.namer.Name(ctx, c)
		if err != nil {
			log.Warn().Err(err).Str("cluster_id", c.ID).Msg("cluster naming failed")
			continue
		}
		p.engine.ApplyName(c.ID, name)
	}
}

// enqueueEnrichment schedules every entity the cluster engine flagged
// as new or stale for background enrichment, deduping against entities
// already pending within the window so a popular entity seen across
// many tabs in one batch is only queued once.
func (p *Pipeline) enqueueEnrichment(ctx context.Context, result cluster.BatchResult, tabs []cluster.Tab) {
	log := logging.From(ctx)
	seen := make(map[int64]bool, len(result.NeedsEnrichment))
	for _, entityID := range result.NeedsEnrichment {
		if seen[entityID] {
			continue
		}
		seen[entityID] = true

		entity, found, err := p.store.GetEntity(ctx, entityID)
		if err != nil || !found {
			continue
		}

		task := queue.EnrichmentTask{EntityID: entityID, EntityName: entity.Name}
		for _, t := range tabs {
			if containsString(t.Entities, entity.Name) {
				task.TabID = t.ID
				task.TabURL = t.URL
				task.TabTitle = t.Title
				task.TabSummary = t.Summary
				task.RelatedEntities = relatedEntities(t.Entities, entity.Name)
				break
			}
		}

		win, err := p.dedup.MarkPending(ctx, entityID, p.enrichmentWindow)
		if err != nil {
			log.Warn().Err(err).Int64("entity_id", entityID).Msg("enrichment dedup check failed, enqueueing anyway")
		} else if !win {
			continue
		}

		if err := p.producer.Publish(ctx, task); err != nil {
			log.Warn().Err(err).Int64("entity_id", entityID).Msg("failed to enqueue enrichment task")
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func relatedEntities(all []string, exclude string) []string {
	out := make([]string, 0, len(all))
	for _, v := range all {
		if v != exclude {
			out = append(out, v)
		}
		if len(out) >= 5 {
			break
		}
	}
	return out
}
