package vectorstore

// Wire types of the vectors HTTP API spoken by PassthroughBackend and
// served by internal/http. Every request is keyed by collection id.

// Vectors API paths, relative to the base URL.
const (
	PathHealth     = "/api/vector/health"
	PathList       = "/api/vector/list"
	PathInsert     = "/api/vector/insert"
	PathDelete     = "/api/vector/delete"
	PathQuery      = "/api/vector/query"
	PathQueryMulti = "/api/vector/query-multi"
	PathPurge      = "/api/vector/purge"
	PathPurgeFile  = "/api/vector/purge-file"
	PathPurgeAll   = "/api/vector/purge-all"
)

// ListRequest asks for the hashes stored in a collection.
type ListRequest struct {
	CollectionID string `json:"collectionId"`
	Source       string `json:"source,omitempty"`
}

// ListResponse carries stored hashes.
type ListResponse struct {
	Hashes []string `json:"hashes"`
}

// InsertRequest stores chunks in a collection.
type InsertRequest struct {
	CollectionID string  `json:"collectionId"`
	Source       string  `json:"source,omitempty"`
	Items        []Chunk `json:"items"`
}

// DeleteRequest removes hashes from a collection.
type DeleteRequest struct {
	CollectionID string   `json:"collectionId"`
	Source       string   `json:"source,omitempty"`
	Hashes       []string `json:"hashes"`
}

// QueryRequest searches one collection. Vector takes precedence over
// SearchText when both are set.
type QueryRequest struct {
	CollectionID string    `json:"collectionId"`
	Source       string    `json:"source,omitempty"`
	SearchText   string    `json:"searchText,omitempty"`
	Vector       []float32 `json:"vector,omitempty"`
	TopK         int       `json:"topK"`
	Threshold    float64   `json:"threshold,omitempty"`
}

// QueryResponse carries results of a single-collection query.
type QueryResponse struct {
	Results []RetrievalResult `json:"results"`
}

// QueryMultiRequest searches several collections with one text.
type QueryMultiRequest struct {
	CollectionIDs []string `json:"collectionIds"`
	Source        string   `json:"source,omitempty"`
	SearchText    string   `json:"searchText"`
	TopK          int      `json:"topK"`
	Threshold     float64  `json:"threshold,omitempty"`
}

// QueryMultiResponse carries results keyed by collection id.
type QueryMultiResponse struct {
	Results map[string][]RetrievalResult `json:"results"`
}

// PurgeRequest removes one collection.
type PurgeRequest struct {
	CollectionID string `json:"collectionId"`
}

// PurgeFileRequest removes the collection of one attached file.
type PurgeFileRequest struct {
	CollectionID string `json:"collectionId"`
}

// PurgeAllRequest removes every collection. Confirm must be ConfirmPurgeAll.
type PurgeAllRequest struct {
	Confirm PurgeConfirmation `json:"confirm"`
}

// ErrorResponse is returned with any non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
