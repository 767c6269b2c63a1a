package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertTab_PreservesEmbeddingWhenNotProvided(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertTab(ctx, Tab{ID: 1, Title: "Go", Embedding: []float32{1, 2, 3}}))
	require.NoError(t, s.UpsertTab(ctx, Tab{ID: 1, Title: "Go updated"}))

	got, found, err := s.GetTab(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Go updated", got.Title)
	assert.Equal(t, []float32{1, 2, 3}, got.Embedding)
}

func TestMemoryStore_CloseTabThenListActiveTabsExcludesIt(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertTab(ctx, Tab{ID: 1, OpenedAt: time.Now()}))
	require.NoError(t, s.UpsertTab(ctx, Tab{ID: 2, OpenedAt: time.Now()}))
	require.NoError(t, s.CloseTab(ctx, 1))

	active, err := s.ListActiveTabs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].ID)
}

func TestMemoryStore_RemoveTabCascadesEdgesAndRelationships(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertTab(ctx, Tab{ID: 1}))
	require.NoError(t, s.UpsertTab(ctx, Tab{ID: 2}))
	entID, err := s.UpsertEntity(ctx, Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)
	require.NoError(t, s.LinkTabToEntity(ctx, 1, entID))
	require.NoError(t, s.UpsertTabRelationship(ctx, TabRelationship{TabID1: 1, TabID2: 2, SharedEntityCount: 1}))

	require.NoError(t, s.RemoveTab(ctx, 1))

	ents, err := s.GetEntitiesForTab(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ents)

	rels, err := s.GetTabRelationships(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestMemoryStore_UpsertEntity_IsIdempotentByNameAndType(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	id1, err := s.UpsertEntity(ctx, Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)
	id2, err := s.UpsertEntity(ctx, Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := s.UpsertEntity(ctx, Entity{Name: "Go", EntityType: "Person"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestMemoryStore_GetOrphanedEntities(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	linked, err := s.UpsertEntity(ctx, Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)
	orphan, err := s.UpsertEntity(ctx, Entity{Name: "Orphan", EntityType: "Concept"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertTab(ctx, Tab{ID: 1}))
	require.NoError(t, s.LinkTabToEntity(ctx, 1, linked))

	orphans, err := s.GetOrphanedEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{orphan}, orphans)

	removed, err := s.RemoveOrphanedEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, err := s.GetEntity(ctx, orphan)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_UpsertTabRelationship_NormalizesOrderingAndPreservesFirstConnected(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertTabRelationship(ctx, TabRelationship{TabID1: 5, TabID2: 2, SharedEntityCount: 1}))
	rels, err := s.GetTabRelationships(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, int64(2), rels[0].TabID1)
	assert.Equal(t, int64(5), rels[0].TabID2)
	first := rels[0].FirstConnected

	require.NoError(t, s.UpsertTabRelationship(ctx, TabRelationship{TabID1: 2, TabID2: 5, SharedEntityCount: 2}))
	rels, err = s.GetTabRelationships(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 2, rels[0].SharedEntityCount)
	assert.True(t, rels[0].FirstConnected.Equal(first))
}

func TestMemoryStore_NeedsEnrichment(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.UpsertEntity(ctx, Entity{Name: "Go", EntityType: "Concept"})
	require.NoError(t, err)

	stale, err := s.NeedsEnrichment(ctx, id, time.Hour)
	require.NoError(t, err)
	assert.True(t, stale, "never-enriched entity should need enrichment")

	require.NoError(t, s.UpdateEntityEnrichment(ctx, id, "desc", nil, "", ""))
	stale, err = s.NeedsEnrichment(ctx, id, time.Hour)
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = s.NeedsEnrichment(ctx, id, -time.Second)
	require.NoError(t, err)
	assert.True(t, stale, "negative TTL should always be considered stale")
}

func TestMemoryStore_GetTripletsForEntity_FiltersBySubjectVsObject(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.AddTriplet(ctx, Triplet{SubjectID: 1, ObjectID: 2, Predicate: "relatedTo"})
	require.NoError(t, err)
	_, err = s.AddTriplet(ctx, Triplet{SubjectID: 2, ObjectID: 1, Predicate: "usedBy"})
	require.NoError(t, err)

	asSubject, err := s.GetTripletsForEntity(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, asSubject, 1)
	assert.Equal(t, "relatedTo", asSubject[0].Predicate)

	asObject, err := s.GetTripletsForEntity(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, asObject, 1)
	assert.Equal(t, "usedBy", asObject[0].Predicate)
}
