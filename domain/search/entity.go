package search

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	// Limit caps returned results; defaults to 10, max 100.
	Limit int `json:"limit"`
	// ScoreThreshold drops results scoring below it; 0 keeps everything.
	ScoreThreshold float32 `json:"scoreThreshold"`
}

// Result is one search hit with its chunk text, filename, and metadata
// resolved from the database.
type Result struct {
	ChunkID    string            `json:"chunkId"`
	DocumentID string            `json:"documentId"`
	Filename   string            `json:"filename"`
	ChunkIndex int               `json:"chunkIndex"`
	Score      float32           `json:"score"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchResponse wraps the ranked results.
type SearchResponse struct {
	Results    []*Result `json:"results"`
	TotalCount int       `json:"totalCount"`
}

// InternalSearchRequest is the body of POST /internal/search: unfiltered
// across tenants.
type InternalSearchRequest struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	ScoreThreshold float32 `json:"scoreThreshold"`
}

// InternalResult is one cross-tenant hit. Text is not resolved; the internal
// surface inspects the index, not the corpus, so filename and metadata come
// straight from the stored payload.
type InternalResult struct {
	ChunkID    string            `json:"chunkId"`
	TenantID   string            `json:"tenantId"`
	DocumentID string            `json:"documentId"`
	ChunkIndex int               `json:"chunkIndex"`
	Score      float32           `json:"score"`
	Filename   string            `json:"filename,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// InternalSearchResponse wraps cross-tenant results.
type InternalSearchResponse struct {
	Results    []*InternalResult `json:"results"`
	TotalCount int               `json:"totalCount"`
}
