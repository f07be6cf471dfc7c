package search

import "context"

// Type selects which index a search runs against.
type Type string

const (
	TypeSemantic Type = "semantic"
	TypeFTS      Type = "fts"
	TypeTemporal Type = "temporal"
	TypeScip     Type = "scip"
)

// Format selects how aggregated results are laid out in the response.
type Format string

const (
	// FormatGrouped keys results by repository for attribution.
	FormatGrouped Format = "grouped"
	// FormatFlat merges all results into one list sorted by descending
	// score, for top-N requests.
	FormatFlat Format = "flat"
)

// Request is one cross-repository search.
type Request struct {
	// Repositories lists global aliases (bare repository names are
	// accepted and resolved to their alias).
	Repositories []string `json:"repositories"`
	Query        string   `json:"query"`
	SearchType   Type     `json:"search_type"`
	Limit        int      `json:"limit"`

	// TimeoutSeconds overrides the configured per-repository timeout.
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	ResponseFormat Format `json:"response_format,omitempty"`
}

// Result is one match, attributed to its repository.
type Result struct {
	Repo     string  `json:"repo"`
	FilePath string  `json:"file_path"`
	Line     int     `json:"line"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet,omitempty"`
}

// Metadata summarises one search request.
type Metadata struct {
	TotalResults     int   `json:"total_results"`
	ReposSearched    int   `json:"repos_searched"`
	ReposWithResults int   `json:"repos_with_results"`
	ExecutionTimeMS  int64 `json:"execution_time_ms"`
}

// Response aggregates per-repository outcomes. A repository appears in
// exactly one of ResultsByRepo, Skipped, Errors or Suggestions; partial
// failure of some repositories never fails the request.
type Response struct {
	ResultsByRepo map[string][]Result `json:"results_by_repo,omitempty"`
	Results       []Result            `json:"results,omitempty"`
	Metadata      Metadata            `json:"metadata"`

	// Skipped maps repository to the reason it was not searched (usually a
	// missing index of the requested kind).
	Skipped map[string]string `json:"skipped,omitempty"`

	// Errors maps repository to its failure message (timeout included).
	Errors map[string]string `json:"errors,omitempty"`

	// Suggestions maps each unresolvable name to close-match aliases.
	Suggestions map[string][]string `json:"suggestions,omitempty"`
}

// Searcher runs a single-repository query against an already-published
// snapshot directory. Implementations carry their own deadline handling;
// the orchestrator's per-repository timeout only reclaims the result slot.
type Searcher interface {
	Search(ctx context.Context, dir string, req *Request) ([]Result, error)
}
