package model

import "unicode"

type SearchMode string

const (
	SearchModeVector  SearchMode = "vector"
	SearchModeKeyword SearchMode = "keyword"
	SearchModeNone    SearchMode = "none"
	SearchModeError   SearchMode = "error"
	// SearchModeDegraded marks an empty vector result caused by a failure.
	SearchModeDegraded SearchMode = "degraded"
)

const (
	SortRelevance = "relevance"
	SortNewest    = "newest"
	SortOldest    = "oldest"
	SortVotes     = "votes"
	SortActivity  = "activity"
)

type Hit struct {
	ID       string    `json:"id"`
	Score    *float64  `json:"score"`
	Document *Document `json:"document,omitempty"`
	Chunk    *Chunk    `json:"chunk,omitempty"`
}

type SearchResult struct {
	Hits       []Hit      `json:"hits"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	TotalCount int        `json:"total_count"`
	TotalPages int        `json:"total_pages"`
	Threshold  float64    `json:"threshold"`
	Mode       SearchMode `json:"search_mode"`
	Cause      error      `json:"-"`
}

func EmptyResult(mode SearchMode, page, perPage int) *SearchResult {
	return &SearchResult{
		Hits:    []Hit{},
		Page:    page,
		PerPage: perPage,
		Mode:    mode,
	}
}

// SearchScope restricts retrieval to a subset of documents.
type SearchScope struct {
	CollectionID string `json:"collection_id"`
	Kind         string `json:"kind"`
}

func (s SearchScope) IsEmpty() bool {
	return s.CollectionID == "" && s.Kind == ""
}

func (s SearchScope) Contains(doc *Document) bool {
	if doc == nil {
		return false
	}
	if s.CollectionID != "" && doc.CollectionID != s.CollectionID {
		return false
	}
	if s.Kind != "" && doc.Kind != s.Kind {
		return false
	}
	return true
}

type LexicalQuery struct {
	Text   string
	Scope  SearchScope
	Sort   string
	Offset int
	Limit  int
}

type LexicalHit struct {
	Document Document
	Rank     float64
}

type Suggestion struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}

// HasSearchTerms reports whether q contains at least one letter or digit.
func HasSearchTerms(q string) bool {
	for _, r := range q {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
