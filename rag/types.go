package rag

// Chunk of a compliance document.
type Chunk struct {
	Text     string
	Source   string // document filename
	Position int    // row in the vector index and corpus
}

// Hit is a retrieved chunk together with its squared L2 distance to the query.
type Hit struct {
	Chunk    Chunk
	Distance float32
}

// FolderReport summarizes a bulk ingestion run.
type FolderReport struct {
	Documents int      // documents appended, including empty ones
	Chunks    int      // chunks appended
	Skipped   []string // files that failed to read
}

// Stats is a point-in-time view of the engine's corpus.
type Stats struct {
	Chunks    int `json:"chunks"`
	Documents int `json:"documents"`
	Dimension int `json:"dimension"`
}
