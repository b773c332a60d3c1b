package models

// SearchOptions tune a text search. Zero values mean: literal match,
// case-sensitive, default result cap, all files.
type SearchOptions struct {
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	Regex           bool   `json:"regex,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
	Include         string `json:"include,omitempty" example:"**/*.go"`
}

// SearchMatch is one matched line
// @Description One search hit with file, position and line text
type SearchMatch struct {
	File   string `json:"file" example:"internal/server.go"`
	Line   int    `json:"line" example:"42"`
	Column int    `json:"column" example:"7"`
	Text   string `json:"text" example:"func Listen(addr string) error {"`
}

// SearchRequest runs a text search under path (relative to the files root).
type SearchRequest struct {
	Query   string        `json:"query"`
	Path    string        `json:"path,omitempty"`
	Options SearchOptions `json:"options,omitempty"`
}

// SearchResponse carries the matches plus a truncation marker when the
// result cap was hit.
type SearchResponse struct {
	Matches   []SearchMatch `json:"matches"`
	Truncated bool          `json:"truncated,omitempty"`
}
