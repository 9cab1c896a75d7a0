package model

const (
	DocumentStateNormal  = 1
	DocumentStateDeleted = 2
)

const (
	DocumentKindArticle  = "article"
	DocumentKindQuestion = "question"
)

type Document struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	State        int    `json:"state"`
	VoteScore    int    `json:"vote_score"`
	Ctime        int64  `json:"ctime"`
	Mtime        int64  `json:"mtime"`
	ActivityTime int64  `json:"activity_time"`
	EmbeddedAt   int64  `json:"embedded_at"`
}

func (d *Document) IsLive() bool {
	return d != nil && d.State == DocumentStateNormal
}

// NeedsEmbedding reports whether the content changed after the last materialization.
func (d *Document) NeedsEmbedding() bool {
	return d.EmbeddedAt == 0 || d.EmbeddedAt < d.Mtime
}
