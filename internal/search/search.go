package search

// Result is a single card hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Content  string `json:"content"`
	Snippet  string `json:"snippet"`
	Priority string `json:"priority"`
}

// Query describes a card search request.
type Query struct {
	Text    string
	BoardID string // empty = all boards
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over cards.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Content  string `json:"content"`
	Details  string `json:"details"`
	Priority string `json:"priority"`
}
