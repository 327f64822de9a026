package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultJoke   ResultType = "joke"
	ResultSource ResultType = "source"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	SourceID string     `json:"sourceId"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request. PublicOnly restricts joke hits to the
// published status, for anonymous readers.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCategory string
	Limit          int
	Offset         int
	PublicOnly     bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexJoke(j JokeRecord) error
	IndexSource(s SourceRecord) error
	DeleteJoke(id string) error
}

// JokeRecord is the data we index for a joke.
type JokeRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Text       string   `json:"text"`
	SourceID   string   `json:"sourceId"`
	Status     string   `json:"status"`
	Categories []string `json:"categories"`
}

// SourceRecord is the data we index for a source scan.
type SourceRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Publication string `json:"publication"`
}
