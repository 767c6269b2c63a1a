package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgraph/internal/embedding"
	"tabgraph/internal/enrichment"
	"tabgraph/internal/graph"
	"tabgraph/internal/queue"
)

type fakeEnricher struct {
	result enrichment.Result
}

func (f fakeEnricher) Enrich(ctx context.Context, entityName string, tabCtx enrichment.Context) enrichment.Result {
	return f.result
}

func TestHandle_SkipsFreshEntity(t *testing.T) {
	t.Parallel()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	id, err := store.UpsertEntity(ctx, graph.Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)
	require.NoError(t, store.UpdateEntityEnrichment(ctx, id, "already enriched", nil, "", ""))

	w := New(store, fakeEnricher{result: enrichment.Result{IsEnriched: true, Description: "should not be used"}}, embedding.NewDeterministic(8, 1), 7*24*time.Hour)

	w.RunBatch(ctx, []queue.EnrichmentTask{{EntityID: id, EntityName: "Go"}})

	ent, _, err := store.GetEntity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "already enriched", ent.WebDescription)
}

func TestHandle_EnrichesStaleEntityAndEmbedsName(t *testing.T) {
	t.Parallel()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	id, err := store.UpsertEntity(ctx, graph.Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)

	w := New(store, fakeEnricher{result: enrichment.Result{
		IsEnriched:      true,
		Description:     "A statically typed language.",
		RelatedConcepts: []string{"Concurrency"},
		EntityType:      "ProgrammingLanguage",
	}}, embedding.NewDeterministic(8, 1), 7*24*time.Hour)

	w.RunBatch(ctx, []queue.EnrichmentTask{{EntityID: id, EntityName: "Go", TabID: 1}})

	ent, _, err := store.GetEntity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "A statically typed language.", ent.WebDescription)
	assert.True(t, ent.IsEnriched)
	assert.NotEmpty(t, ent.Embedding)
	assert.Equal(t, "ProgrammingLanguage", ent.EntityType, "enrichment should refine the placeholder entity type")

	desc, ok, err := store.GetEntityTabContext(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A statically typed language.", desc)
}

func TestHandle_SkipsStoringWhenEnrichmentUnusable(t *testing.T) {
	t.Parallel()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	id, err := store.UpsertEntity(ctx, graph.Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)

	w := New(store, fakeEnricher{result: enrichment.Result{IsEnriched: false}}, embedding.NewDeterministic(8, 1), 7*24*time.Hour)

	w.RunBatch(ctx, []queue.EnrichmentTask{{EntityID: id, EntityName: "Go"}})

	ent, _, err := store.GetEntity(ctx, id)
	require.NoError(t, err)
	assert.False(t, ent.IsEnriched)
}

func TestHandle_DoesNotSaveTabContextWithoutTabID(t *testing.T) {
	t.Parallel()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	id, err := store.UpsertEntity(ctx, graph.Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)

	w := New(store, fakeEnricher{result: enrichment.Result{IsEnriched: true, Description: "desc"}}, embedding.NewDeterministic(8, 1), 7*24*time.Hour)

	w.RunBatch(ctx, []queue.EnrichmentTask{{EntityID: id, EntityName: "Go"}})

	_, ok, err := store.GetEntityTabContext(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
