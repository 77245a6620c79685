package models

// SearchDoc is the derived document held in the search index. The ID
// mirrors Post.ID, stringified. Content is a plain-text extraction of
// the post body, truncated before indexing.
type SearchDoc struct {
	ID      string   `json:"id"`
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Summary string   `json:"summary,omitempty"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}
