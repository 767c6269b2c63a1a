package graph

import (
	"context"
	"time"
)

// Store is the persistence contract the ingestion pipeline, clustering
// engine, enrichment worker and visualization endpoints share. Two
// implementations exist: a pgx-backed Postgres store for production,
// and an in-memory store for tests and the deterministic-embedder
// fixture.
type Store interface {
	// Tabs

	UpsertTab(ctx context.Context, tab Tab) error
	GetTab(ctx context.Context, id int64) (Tab, bool, error)
	ListActiveTabs(ctx context.Context) ([]Tab, error)
	CloseTab(ctx context.Context, id int64) error
	RemoveTab(ctx context.Context, id int64) error
	UpdateTabSummary(ctx context.Context, id int64, summary string) error
	UpdateTabEmbedding(ctx context.Context, id int64, embedding []float32) error

	// Entities

	// UpsertEntity inserts the entity if absent (unique on name+type) and
	// returns its id either way, mirroring INSERT OR IGNORE semantics.
	UpsertEntity(ctx context.Context, e Entity) (int64, error)
	GetEntity(ctx context.Context, id int64) (Entity, bool, error)
	GetEntityByName(ctx context.Context, name, entityType string) (Entity, bool, error)
	GetEntitiesByNames(ctx context.Context, names []string) ([]Entity, error)
	RemoveEntity(ctx context.Context, id int64) error
	GetOrphanedEntities(ctx context.Context) ([]int64, error)
	RemoveOrphanedEntities(ctx context.Context) (int, error)

	// Tab <-> entity edges

	LinkTabToEntity(ctx context.Context, tabID, entityID int64) error
	GetEntitiesForTab(ctx context.Context, tabID int64) ([]Entity, error)
	GetTabsForEntity(ctx context.Context, entityID int64) ([]Tab, error)

	// Enrichment

	UpdateEntityEnrichment(ctx context.Context, entityID int64, webDescription string, relatedConcepts []string, sourceURL string, entityType string) error
	UpdateEntityEmbedding(ctx context.Context, entityID int64, embedding []float32) error
	SaveEntityTabContext(ctx context.Context, entityID, tabID int64, description string) error
	GetEntityTabContext(ctx context.Context, entityID, tabID int64) (string, bool, error)
	NeedsEnrichment(ctx context.Context, entityID int64, cacheTTL time.Duration) (bool, error)
	GetEntitiesNeedingEnrichment(ctx context.Context, limit int) ([]Entity, error)

	// Tab-tab relationships (Jaccard edges)

	UpsertTabRelationship(ctx context.Context, rel TabRelationship) error
	GetTabRelationships(ctx context.Context, tabID int64) ([]TabRelationship, error)
	GetAllTabRelationships(ctx context.Context) ([]TabRelationship, error)

	// Temporal triplets

	AddTriplet(ctx context.Context, t Triplet) (int64, error)
	GetTripletsForEntity(ctx context.Context, entityID int64, asSubject bool) ([]Triplet, error)

	Close()
}
