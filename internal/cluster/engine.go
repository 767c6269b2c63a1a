package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabgraph/internal/config"
	"tabgraph/internal/graph"
	"tabgraph/internal/logging"
)

const conceptEntityType = "Concept"

// Engine owns all in-memory cluster state and the coarse lock that
// serializes the in-memory-clustering-plus-graph-write span of
// concurrent ingests. LLM naming calls happen outside that lock: the
// engine returns clusters needing a name and the caller (ingestion.Pipeline)
// names them afterward, re-acquiring the lock only to apply the result.
type Engine struct {
	mu           sync.Mutex
	clusters     []*Cluster
	nextColorIdx int

	cfg   config.ClusterConfig
	store graph.Store
}

func NewEngine(cfg config.ClusterConfig, store graph.Store) *Engine {
	return &Engine{cfg: cfg, store: store}
}

func (e *Engine) nextColor() Color {
	c := palette[e.nextColorIdx%len(palette)]
	e.nextColorIdx++
	return c
}

// AssignmentResult reports one tab's outcome from a batch assignment.
type AssignmentResult struct {
	Tab           Tab
	Cluster       *Cluster
	Similarity    float64
	CreatedNew    bool
}

// BatchResult is the outcome of processing a batch of tabs.
type BatchResult struct {
	Assignments []AssignmentResult
	// PendingNaming holds newly created clusters with 2+ tabs still
	// named "New Cluster"; the caller should name them via a Namer
	// without holding the engine lock, then call ApplyName.
	PendingNaming []*Cluster
	// PendingRename holds existing clusters that crossed the rename
	// threshold this batch.
	PendingRename []*Cluster
	// NeedsEnrichment lists entity IDs newly created this batch, or
	// existing ones stale enough to need a trip through the enrichment
	// worker.
	NeedsEnrichment []int64
}

// ProcessBatch assigns every tab in tabs to an existing or new cluster,
// performing the in-memory update and the graph writes under the
// engine's lock. It does not call the LLM namer; see BatchResult.
func (e *Engine) ProcessBatch(ctx context.Context, tabs []Tab) (BatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := logging.From(ctx)
	var result BatchResult
	clustersBefore := make(map[string]bool, len(e.clusters))
	for _, c := range e.clusters {
		clustersBefore[c.ID] = true
	}

	for _, tab := range tabs {
		best, similarity, ok := e.findBestClusterLocked(tab)
		if ok {
			needsEnrichment, err := e.addTabToClusterLocked(ctx, best, tab)
			if err != nil {
				return result, fmt.Errorf("cluster: assigning tab %d: %w", tab.ID, err)
			}
			result.NeedsEnrichment = append(result.NeedsEnrichment, needsEnrichment...)
			result.Assignments = append(result.Assignments, AssignmentResult{Tab: tab, Cluster: best, Similarity: similarity})
			if best.shouldRegenerateName(e.cfg.RenameThreshold) {
				result.PendingRename = append(result.PendingRename, best)
			}
			log.Debug().Int64("tab_id", tab.ID).Str("cluster_id", best.ID).Float64("similarity", similarity).Msg("tab assigned to existing cluster")
			continue
		}

		created, needsEnrichment, err := e.createNewClusterLocked(ctx, tab, true)
		if err != nil {
			return result, fmt.Errorf("cluster: creating cluster for tab %d: %w", tab.ID, err)
		}
		result.NeedsEnrichment = append(result.NeedsEnrichment, needsEnrichment...)
		result.Assignments = append(result.Assignments, AssignmentResult{Tab: tab, Cluster: created, CreatedNew: true})
		log.Debug().Int64("tab_id", tab.ID).Str("cluster_id", created.ID).Msg("created new cluster")
	}

	for _, c := range e.clusters {
		if !clustersBefore[c.ID] && c.Name == "New Cluster" && c.TabCount() >= e.cfg.MinClusterSize {
			result.PendingNaming = append(result.PendingNaming, c)
		}
	}

	return result, nil
}

// ApplyName sets a cluster's name, as decided by a Namer run outside
// the engine lock, and resets its rename counter.
func (e *Engine) ApplyName(clusterID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.clusters {
		if c.ID == clusterID {
			c.Name = name
			c.TabsAddedSinceNaming = 0
			return
		}
	}
}

func (e *Engine) findBestClusterLocked(tab Tab) (*Cluster, float64, bool) {
	if len(tab.Embedding) == 0 || len(e.clusters) == 0 {
		return nil, 0, false
	}

	var best *Cluster
	bestSimilarity := -1.0
	bestHybrid := false

	for _, c := range e.clusters {
		if c.CentroidEmbedding == nil {
			continue
		}
		hybrid := e.cfg.EntityOverlapWeight > 0 && len(tab.Entities) > 0 && len(c.SharedEntities) > 0
		var sim float64
		if hybrid {
			sim = hybridSimilarity(e.cfg.EmbeddingWeight, e.cfg.EntityOverlapWeight, tab.Embedding, c.CentroidEmbedding, tab.Entities, c.SharedEntities)
		} else {
			sim = cosineSimilarity(tab.Embedding, c.CentroidEmbedding)
		}
		if sim > bestSimilarity {
			bestSimilarity = sim
			best = c
			bestHybrid = hybrid
		}
	}

	threshold := e.cfg.SimilarityThreshold
	if bestHybrid {
		threshold = e.cfg.HybridSimilarityThreshold
	}
	if best == nil || bestSimilarity < threshold {
		return nil, 0, false
	}
	return best, bestSimilarity, true
}

func (e *Engine) addTabToClusterLocked(ctx context.Context, c *Cluster, tab Tab) ([]int64, error) {
	c.addTab(tab)
	e.updateCentroidLocked(ctx, c)
	e.updateSharedEntitiesLocked(c)
	return e.storeTabInGraphLocked(ctx, tab)
}

func (e *Engine) createNewClusterLocked(ctx context.Context, tab Tab, deferNaming bool) (*Cluster, []int64, error) {
	c := &Cluster{
		ID:        uuid.NewString(),
		Name:      "New Cluster",
		Color:     e.nextColor(),
		Confidence: 1.0,
		CreatedAt: time.Now(),
	}
	needsEnrichment, err := e.addTabToClusterLocked(ctx, c, tab)
	if err != nil {
		return nil, nil, err
	}
	if !deferNaming {
		c.TabsAddedSinceNaming = 0
	}
	e.clusters = append(e.clusters, c)
	return c, needsEnrichment, nil
}

// Detach removes a tab from whichever in-memory cluster holds it,
// recomputing the centroid and shared entities, deleting the cluster
// outright if it falls below the minimum viable size. Detach never
// touches the graph store: callers decide separately whether the tab
// row itself should be soft-closed (ingest reconcile) or hard-deleted
// (the explicit delete endpoint). Detach never triggers a rename.
// It reports whether the tab was found and whether its cluster was
// deleted as a result.
func (e *Engine) Detach(ctx context.Context, tabID int64) (found, clusterDeleted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, c := range e.clusters {
		if !c.removeTab(tabID) {
			continue
		}
		e.updateCentroidLocked(ctx, c)
		e.updateSharedEntitiesLocked(c)
		if c.markForDeletion(e.cfg.MinClusterSize) {
			e.clusters = append(e.clusters[:i], e.clusters[i+1:]...)
			return true, true
		}
		return true, false
	}
	return false, false
}

// updateCentroidLocked recomputes a cluster's centroid, preferring
// cached entity-name embeddings (a cleaner signal than raw tab
// embeddings) and falling back to averaging tab embeddings.
func (e *Engine) updateCentroidLocked(ctx context.Context, c *Cluster) {
	if len(c.Tabs) == 0 {
		c.CentroidEmbedding = nil
		return
	}

	names := make(map[string]struct{})
	for _, t := range c.Tabs {
		for _, name := range t.Entities {
			names[name] = struct{}{}
		}
	}
	if len(names) > 0 {
		nameList := make([]string, 0, len(names))
		for n := range names {
			nameList = append(nameList, n)
		}
		if entities, err := e.store.GetEntitiesByNames(ctx, nameList); err == nil {
			var vecs [][]float32
			for _, ent := range entities {
				if len(ent.Embedding) > 0 {
					vecs = append(vecs, ent.Embedding)
				}
			}
			if len(vecs) > 0 {
				c.CentroidEmbedding = centroidOf(vecs)
				return
			}
		}
	}

	var tabVecs [][]float32
	for _, t := range c.Tabs {
		if len(t.Embedding) > 0 {
			tabVecs = append(tabVecs, t.Embedding)
		}
	}
	c.CentroidEmbedding = centroidOf(tabVecs)
}

// updateSharedEntitiesLocked recomputes the entities that recur across
// a cluster's tabs, sorted by frequency. A lone tab contributes all of
// its entities; once a cluster has two or more tabs, only entities
// appearing in at least two of them count as "shared".
func (e *Engine) updateSharedEntitiesLocked(c *Cluster) {
	if len(c.Tabs) == 0 {
		c.SharedEntities = nil
		return
	}
	counts := make(map[string]int)
	for _, t := range c.Tabs {
		for _, name := range t.Entities {
			counts[name]++
		}
	}
	minOccurrences := 1
	if len(c.Tabs) > 1 {
		minOccurrences = 2
	}
	var shared []string
	for name, count := range counts {
		if count >= minOccurrences {
			shared = append(shared, name)
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if counts[shared[i]] != counts[shared[j]] {
			return counts[shared[i]] > counts[shared[j]]
		}
		return shared[i] < shared[j]
	})
	c.SharedEntities = shared
}

const minSharedEntitiesForRelationship = 1

// storeTabInGraphLocked upserts the tab and its entity links, and
// recomputes tab-tab Jaccard relationships against tabs that already
// share an entity. It returns entity IDs that are new or stale enough
// to need enrichment, for the caller to enqueue non-blockingly.
func (e *Engine) storeTabInGraphLocked(ctx context.Context, tab Tab) ([]int64, error) {
	if err := e.store.UpsertTab(ctx, toGraphTab(tab)); err != nil {
		return nil, err
	}

	var needsEnrichment []int64
	entityIDs := make([]int64, 0, len(tab.Entities))
	for _, name := range tab.Entities {
		existing, found, err := e.store.GetEntityByName(ctx, name, conceptEntityType)
		if err != nil {
			return nil, err
		}
		var entityID int64
		if found {
			entityID = existing.ID
			if stale, err := e.store.NeedsEnrichment(ctx, entityID, e.cfg.EnrichmentCacheTTL); err == nil && stale {
				needsEnrichment = append(needsEnrichment, entityID)
			}
		} else {
			id, err := e.store.UpsertEntity(ctx, graph.Entity{Name: name, EntityType: conceptEntityType})
			if err != nil {
				return nil, err
			}
			entityID = id
			needsEnrichment = append(needsEnrichment, entityID)
		}
		if err := e.store.LinkTabToEntity(ctx, tab.ID, entityID); err != nil {
			return nil, err
		}
		entityIDs = append(entityIDs, entityID)
	}

	if len(entityIDs) > 0 {
		if err := e.computeTabRelationshipsLocked(ctx, tab, entityIDs); err != nil {
			return needsEnrichment, err
		}
	}
	return needsEnrichment, nil
}

func (e *Engine) computeTabRelationshipsLocked(ctx context.Context, tab Tab, entityIDs []int64) error {
	candidates := make(map[int64]bool)
	for _, entityID := range entityIDs {
		tabs, err := e.store.GetTabsForEntity(ctx, entityID)
		if err != nil {
			return err
		}
		for _, other := range tabs {
			if other.ID != tab.ID {
				candidates[other.ID] = true
			}
		}
	}

	for otherID := range candidates {
		otherEntities, err := e.store.GetEntitiesForTab(ctx, otherID)
		if err != nil {
			return err
		}
		var names []string
		for _, ent := range otherEntities {
			names = append(names, ent.Name)
		}
		shared := sharedNames(tab.Entities, names)
		if len(shared) < minSharedEntitiesForRelationship {
			continue
		}
		strength := entityOverlapScore(tab.Entities, names)
		id1, id2 := tab.ID, otherID
		if id1 > id2 {
			id1, id2 = id2, id1
		}
		if err := e.store.UpsertTabRelationship(ctx, graph.TabRelationship{
			TabID1:               id1,
			TabID2:               id2,
			SharedEntityCount:    len(shared),
			SharedEntities:       shared,
			RelationshipStrength: strength,
		}); err != nil {
			return err
		}
	}
	return nil
}

func sharedNames(a, b []string) []string {
	setB := make(map[string]struct{}, len(b))
	for _, n := range b {
		setB[n] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, n := range a {
		if _, ok := setB[n]; ok {
			if _, dup := seen[n]; !dup {
				out = append(out, n)
				seen[n] = struct{}{}
			}
		}
	}
	sort.Strings(out)
	return out
}

// GetClusterByID returns a snapshot copy of the named cluster, if any.
func (e *Engine) GetClusterByID(id string) (Cluster, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.clusters {
		if c.ID == id {
			return *c, true
		}
	}
	return Cluster{}, false
}

// GetAllClusters returns a snapshot copy of every live cluster.
func (e *Engine) GetAllClusters() []Cluster {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Cluster, len(e.clusters))
	for i, c := range e.clusters {
		out[i] = *c
	}
	return out
}

// HubEntities returns the top-N most frequent entities across a
// cluster's tabs, used for efficient relationship discovery from a
// visualization client.
func HubEntities(c Cluster, topN int) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range c.Tabs {
		for _, name := range t.Entities {
			if _, ok := counts[name]; !ok {
				order = append(order, name)
			}
			counts[name]++
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return order[i] < order[j]
	})
	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

// Stats summarizes the engine's current cluster population.
type Stats struct {
	TotalClusters    int
	TotalTabs        int
	AvgTabsPerCluster float64
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total int
	for _, c := range e.clusters {
		total += c.TabCount()
	}
	s := Stats{TotalClusters: len(e.clusters), TotalTabs: total}
	if len(e.clusters) > 0 {
		s.AvgTabsPerCluster = float64(total) / float64(len(e.clusters))
	}
	return s
}
