package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgraph/internal/cluster"
	"tabgraph/internal/config"
	"tabgraph/internal/dedup"
	"tabgraph/internal/embedding"
	"tabgraph/internal/entities"
	"tabgraph/internal/graph"
	"tabgraph/internal/queue"
)

type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, tab entities.Tab) ([]string, error) {
	return []string{"Go"}, nil
}

func (fakeExtractor) ExtractBatch(ctx context.Context, tabs []entities.Tab) ([][]string, error) {
	out := make([][]string, len(tabs))
	for i := range tabs {
		out[i] = []string{"Go"}
	}
	return out, nil
}

type fakeNamer struct{ calls int }

func (f *fakeNamer) Name(ctx context.Context, c *cluster.Cluster) (string, error) {
	f.calls++
	return "Go Programming", nil
}

type recordingProducer struct {
	tasks []queue.EnrichmentTask
}

func (p *recordingProducer) Publish(ctx context.Context, task queue.EnrichmentTask) error {
	p.tasks = append(p.tasks, task)
	return nil
}
func (p *recordingProducer) Close() error { return nil }

func testClusterConfig() config.ClusterConfig {
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

func newTestPipeline() (*Pipeline, *graph.MemoryStore, *recordingProducer, *fakeNamer) {
	store := graph.NewMemoryStore()
	engine := cluster.NewEngine(testClusterConfig(), store)
	embedder := embedding.NewDeterministic(16, 1)
	namer := &fakeNamer{}
	producer := &recordingProducer{}
	p := New(store, embedder, fakeExtractor{}, engine, namer, producer, dedup.NewNoop())
	return p, store, producer, namer
}

func TestIngest_ProcessesNewTabs(t *testing.T) {
	t.Parallel()
	p, _, _, _ := newTestPipeline()

	result, err := p.Ingest(context.Background(), []InputTab{
		{ID: 1, URL: "https://go.dev", Title: "Go programming language"},
		{ID: 2, URL: "https://go.dev/doc", Title: "Go programming language"},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 2, result.Processed)
	assert.Len(t, result.TabData, 2)
	for _, td := range result.TabData {
		assert.NotEmpty(t, td.Embedding)
		assert.Equal(t, []string{"Go"}, td.Entities)
	}
}

func TestIngest_NamesNewClusterOnceMinSizeReached(t *testing.T) {
	t.Parallel()
	p, _, _, namer := newTestPipeline()

	_, err := p.Ingest(context.Background(), []InputTab{
		{ID: 1, URL: "https://go.dev", Title: "Go programming language"},
		{ID: 2, URL: "https://go.dev/doc", Title: "Go programming language"},
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, namer.calls)
	clusters := p.engine.GetAllClusters()
	require.Len(t, clusters, 1)
	assert.Equal(t, "Go Programming", clusters[0].Name)
}

func TestIngest_ReconcileClosesMissingTabs(t *testing.T) {
	t.Parallel()
	p, store, _, _ := newTestPipeline()
	ctx := context.Background()

	_, err := p.Ingest(ctx, []InputTab{
		{ID: 1, URL: "https://go.dev", Title: "Go"},
		{ID: 2, URL: "https://go.dev/doc", Title: "Go Docs"},
	}, time.Now())
	require.NoError(t, err)

	_, err = p.Ingest(ctx, []InputTab{
		{ID: 1, URL: "https://go.dev", Title: "Go"},
	}, time.Now())
	require.NoError(t, err)

	tab2, found, err := store.GetTab(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, tab2.Active)
}

func TestIngest_UsesCachedEmbeddingAndEntitiesWithoutRecomputing(t *testing.T) {
	t.Parallel()
	p, _, _, _ := newTestPipeline()

	result, err := p.Ingest(context.Background(), []InputTab{
		{ID: 1, URL: "https://go.dev", Title: "Go", CachedEmbedding: []float32{1, 0, 0}, CachedEntities: []string{"Cached"}},
	}, time.Now())
	require.NoError(t, err)
	require.Len(t, result.TabData, 1)
	assert.Equal(t, []float32{1, 0, 0}, result.TabData[0].Embedding)
	assert.Equal(t, []string{"Cached"}, result.TabData[0].Entities)
}

func TestIngest_EnqueuesEnrichmentForNewEntities(t *testing.T) {
	t.Parallel()
	p, _, producer, _ := newTestPipeline()

	_, err := p.Ingest(context.Background(), []InputTab{
		{ID: 1, URL: "https://go.dev", Title: "Go"},
	}, time.Now())
	require.NoError(t, err)

	require.Len(t, producer.tasks, 1)
	assert.Equal(t, "Go", producer.tasks[0].EntityName)
	assert.Equal(t, int64(1), producer.tasks[0].TabID)
}

func TestIngest_EmptyBatchClosesAllActiveTabs(t *testing.T) {
	t.Parallel()
	p, store, _, _ := newTestPipeline()
	ctx := context.Background()

	_, err := p.Ingest(ctx, []InputTab{{ID: 1, URL: "https://go.dev", Title: "Go"}}, time.Now())
	require.NoError(t, err)

	result, err := p.Ingest(ctx, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	tab1, found, err := store.GetTab(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, tab1.Active)
}
