package summarize

import (
	"fmt"
	"math"
	"sort"

	"github.com/user/ticketdigest/internal/prompt"
	"github.com/user/ticketdigest/internal/types"
)

// Index is an in-memory vector index over the chunks of one ticket. It is
// built and queried within a single run and never shared.
type Index struct {
	chunks  []types.Chunk
	vectors [][]float32
}

// NewIndex pairs chunks with their embeddings.
func NewIndex(chunks []types.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	return &Index{chunks: chunks, vectors: vectors}, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Search returns up to k chunks ranked by cosine similarity to q. Equal
// scores rank by sequence number.
func (ix *Index) Search(q []float32, k int) []prompt.Scored {
	hits := make([]prompt.Scored, len(ix.chunks))
	for i, c := range ix.chunks {
		hits[i] = prompt.Scored{Chunk: c, Score: cosine(q, ix.vectors[i])}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Seq < hits[j].Chunk.Seq
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
