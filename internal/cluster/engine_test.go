package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgraph/internal/config"
	"tabgraph/internal/graph"
)

func testConfig() config.ClusterConfig {
	return config.ClusterConfig{
		SimilarityThreshold:       0.75,
		HybridSimilarityThreshold: 0.50,
		EmbeddingWeight:           0.7,
		EntityOverlapWeight:       0.3,
		RenameThreshold:           5,
		MinClusterSize:            2,
		EnrichmentCacheTTL:        7 * 24 * time.Hour,
	}
}

func newTestEngine() *Engine {
	return NewEngine(testConfig(), graph.NewMemoryStore())
}

func tab(id int64, url, title string, emb []float32, entities ...string) Tab {
	return Tab{
		ID:           id,
		URL:          url,
		Title:        title,
		Embedding:    emb,
		Entities:     entities,
		OpenedAt:     time.Now(),
		LastAccessed: time.Now(),
	}
}

func TestProcessBatch_FirstTabAlwaysCreatesCluster(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	result, err := e.ProcessBatch(context.Background(), []Tab{
		tab(1, "https://go.dev", "Go", []float32{1, 0, 0}, "Go"),
	})
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)
	assert.True(t, result.Assignments[0].CreatedNew)
	assert.Equal(t, 1, e.Stats().TotalClusters)
}

func TestProcessBatch_SimilarTabsJoinSameCluster(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.ProcessBatch(ctx, []Tab{
		tab(1, "https://go.dev/doc", "Go Docs", []float32{1, 0, 0}, "Go"),
	})
	require.NoError(t, err)

	result, err := e.ProcessBatch(ctx, []Tab{
		tab(2, "https://go.dev/blog", "Go Blog", []float32{1, 0, 0}, "Go"),
	})
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)
	assert.False(t, result.Assignments[0].CreatedNew)
	assert.Equal(t, 1, e.Stats().TotalClusters)
	assert.Equal(t, 2, e.Stats().TotalTabs)
}

func TestProcessBatch_DissimilarTabsCreateSeparateClusters(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.ProcessBatch(ctx, []Tab{
		tab(1, "https://go.dev", "Go", []float32{1, 0, 0}, "Go"),
	})
	require.NoError(t, err)

	result, err := e.ProcessBatch(ctx, []Tab{
		tab(2, "https://cooking.example", "Recipes", []float32{0, 1, 0}, "Cooking"),
	})
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)
	assert.True(t, result.Assignments[0].CreatedNew)
	assert.Equal(t, 2, e.Stats().TotalClusters)
}

func TestProcessBatch_HybridThresholdAllowsLowerCosineWithSharedEntities(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.ProcessBatch(ctx, []Tab{
		tab(1, "https://go.dev/a", "Go A", []float32{1, 0}, "Go", "Kubernetes"),
		tab(2, "https://go.dev/b", "Go B", []float32{1, 0}, "Go", "Kubernetes"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, e.Stats().TotalClusters)

	// Cosine similarity with the centroid is below the 0.75 cosine-only
	// threshold but the entity overlap pulls the hybrid score above 0.50.
	result, err := e.ProcessBatch(ctx, []Tab{
		tab(3, "https://go.dev/c", "Go C", []float32{0.6, 0.8}, "Go", "Kubernetes"),
	})
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)
	assert.False(t, result.Assignments[0].CreatedNew)
}

func TestProcessBatch_PendingNamingOnceMinClusterSizeReached(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()

	result, err := e.ProcessBatch(ctx, []Tab{
		tab(1, "https://go.dev/a", "Go A", []float32{1, 0}, "Go"),
		tab(2, "https://go.dev/b", "Go B", []float32{1, 0}, "Go"),
	})
	require.NoError(t, err)
	require.Len(t, result.PendingNaming, 1)
	assert.Equal(t, "New Cluster", result.PendingNaming[0].Name)
}

func TestApplyName(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()

	result, err := e.ProcessBatch(ctx, []Tab{tab(1, "https://go.dev", "Go", []float32{1, 0}, "Go")})
	require.NoError(t, err)
	clusterID := result.Assignments[0].Cluster.ID

	e.ApplyName(clusterID, "Go Programming")
	got, ok := e.GetClusterByID(clusterID)
	require.True(t, ok)
	assert.Equal(t, "Go Programming", got.Name)
	assert.Equal(t, 0, got.TabsAddedSinceNaming)
}

func TestDetach_RemovesTabAndRecomputesCentroid(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.ProcessBatch(ctx, []Tab{
		tab(1, "https://go.dev/a", "Go A", []float32{1, 0}, "Go"),
		tab(2, "https://go.dev/b", "Go B", []float32{1, 0}, "Go"),
		tab(3, "https://go.dev/c", "Go C", []float32{1, 0}, "Go"),
	})
	require.NoError(t, err)
	require.Equal(t, 3, e.Stats().TotalTabs)

	found, deleted := e.Detach(ctx, 3)
	assert.True(t, found)
	assert.False(t, deleted)
	assert.Equal(t, 2, e.Stats().TotalTabs)
}

func TestDetach_DeletesClusterBelowMinSize(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.ProcessBatch(ctx, []Tab{
		tab(1, "https://go.dev/a", "Go A", []float32{1, 0}, "Go"),
		tab(2, "https://go.dev/b", "Go B", []float32{1, 0}, "Go"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, e.Stats().TotalClusters)

	found, deleted := e.Detach(ctx, 2)
	assert.True(t, found)
	assert.True(t, deleted)
	assert.Equal(t, 0, e.Stats().TotalClusters)
}

func TestDetach_UnknownTabReportsNotFound(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	found, deleted := e.Detach(context.Background(), 999)
	assert.False(t, found)
	assert.False(t, deleted)
}

func TestDetach_NeverTouchesGraphStore(t *testing.T) {
	t.Parallel()
	store := graph.NewMemoryStore()
	e := NewEngine(testConfig(), store)
	ctx := context.Background()

	_, err := e.ProcessBatch(ctx, []Tab{
		tab(1, "https://go.dev/a", "Go A", []float32{1, 0}, "Go"),
		tab(2, "https://go.dev/b", "Go B", []float32{1, 0}, "Go"),
	})
	require.NoError(t, err)

	e.Detach(ctx, 1)

	got, found, err := store.GetTab(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Active)
}

func TestHubEntities(t *testing.T) {
	t.Parallel()
	c := Cluster{Tabs: []Tab{
		{Entities: []string{"Go", "Kubernetes"}},
		{Entities: []string{"Go", "Docker"}},
		{Entities: []string{"Go"}},
	}}

	got := HubEntities(c, 2)
	assert.Equal(t, []string{"Go", "Docker"}, got)
}

func TestGetAllClusters_ReturnsIndependentSnapshots(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	ctx := context.Background()
	_, err := e.ProcessBatch(ctx, []Tab{tab(1, "https://go.dev", "Go", []float32{1, 0}, "Go")})
	require.NoError(t, err)

	snapshot := e.GetAllClusters()
	require.Len(t, snapshot, 1)
	snapshot[0].Name = "mutated"

	fresh, ok := e.GetClusterByID(snapshot[0].ID)
	require.True(t, ok)
	assert.Equal(t, "New Cluster", fresh.Name)
}
