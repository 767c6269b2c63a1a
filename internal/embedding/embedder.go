package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder converts batches of text into embedding vectors. Both tab
// content (title and summary) and entity names (for the
// enrichment worker's centroid use) go through the same interface.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// clientEmbedder adapts Client onto Embedder.
type clientEmbedder struct {
	client *Client
	model  string
}

// NewClientEmbedder wraps an HTTP embedding Client as an Embedder.
func NewClientEmbedder(client *Client, model string) Embedder {
	return &clientEmbedder{client: client, model: model}
}

func (c *clientEmbedder) Name() string { return c.model }

// maxBatch bounds how many texts go into one request to the embedding
// endpoint; larger inputs are split across several requests.
const maxBatch = 2048

func (c *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vecs, err := c.client.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// deterministicEmbedder is a hash-based embedder with no external
// dependency, used by tests and by the in-memory graph store fixture so
// clustering logic can be exercised without a live embedding endpoint.
type deterministicEmbedder struct {
	dim  int
	seed uint64
}

// NewDeterministic builds a deterministic, dependency-free Embedder.
// Vectors are L2-normalized so cosine similarity behaves sensibly.
func NewDeterministic(dim int, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, seed: seed}
}

func (d *deterministicEmbedder) Name() string { return "deterministic" }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		d.add(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			d.add(b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func (d *deterministicEmbedder) add(gram []byte, v []float32) {
	h := fnv.New64a()
	if d.seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(d.seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
