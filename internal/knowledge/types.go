package knowledge

import "time"

// Metadata keys stored alongside each embedded document.
const (
	MetaTicketID = "ticketId"
	MetaTitle    = "title"
	MetaCategory = "category"
)

// Document is one embedded knowledge entry. Content is the fully rendered
// ticket text (category, title, description, transcript) so a search hit can
// be injected into the prompt without a second lookup.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
	CreateAt time.Time
}

// Result pairs a document with its cosine similarity to the query,
// higher is closer.
type Result struct {
	Document   Document
	Similarity float64
}

// Report accumulates the outcome of an indexing run. A failed batch or
// document is counted and skipped; it never aborts the remaining batches.
type Report struct {
	Indexed int
	Failed  int
}
