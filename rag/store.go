package rag

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hupe1980/vecgo/distance"
)

// VectorIndex is a flat, append-only collection of vectors searched
// exhaustively by squared Euclidean distance. It is not safe for concurrent
// use; Engine serializes access to it.
type VectorIndex struct {
	dim  int
	data []float32 // row-major, size*dim
}

// NewVectorIndex returns an index of the given dimension. A zero dimension
// is fixed by the first Add.
func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{dim: dim}
}

// Neighbor is a search result: an index position and its squared distance.
type Neighbor struct {
	Position int
	Distance float32
}

// Add appends vectors at the next contiguous positions. Either all vectors
// are added or none.
func (x *VectorIndex) Add(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	dim := x.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	if dim == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d, index has %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	x.dim = dim
	x.data = slices.Grow(x.data, len(vectors)*dim)
	for _, v := range vectors {
		x.data = append(x.data, v...)
	}
	return nil
}

// Search returns the k nearest positions, closest first, ties broken by
// lower position. k is capped at Size.
func (x *VectorIndex) Search(query []float32, k int) ([]Neighbor, error) {
	size := x.Size()
	if k <= 0 || size == 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), x.dim)
	}

	all := make([]Neighbor, size)
	for i := range size {
		row := x.data[i*x.dim : (i+1)*x.dim]
		all[i] = Neighbor{Position: i, Distance: distance.SquaredL2(query, row)}
	}
	slices.SortFunc(all, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})

	return all[:min(k, size)], nil
}

// Size returns the number of stored vectors.
func (x *VectorIndex) Size() int {
	if x.dim == 0 {
		return 0
	}
	return len(x.data) / x.dim
}

func (x *VectorIndex) Dimension() int { return x.dim }

// Corpus holds chunk texts and their source documents as two slices kept
// index-aligned with the VectorIndex rows.
type Corpus struct {
	texts   []string
	sources []string
	docs    map[string]struct{}
}

func NewCorpus() *Corpus {
	return &Corpus{docs: make(map[string]struct{})}
}

// Append adds chunk texts that all come from source.
func (c *Corpus) Append(source string, texts []string) {
	c.docs[source] = struct{}{}
	for _, t := range texts {
		c.texts = append(c.texts, t)
		c.sources = append(c.sources, source)
	}
}

func (c *Corpus) Len() int { return len(c.texts) }

// Documents returns the number of distinct sources ingested, including empty ones.
func (c *Corpus) Documents() int { return len(c.docs) }

// At returns the chunk at position i.
func (c *Corpus) At(i int) Chunk {
	return Chunk{Text: c.texts[i], Source: c.sources[i], Position: i}
}
