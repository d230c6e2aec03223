package domain

import "time"

// ItemMeta is what the origin system knows about a submitted work item.
type ItemMeta struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Content is the fetched body of the item's linked page.
type Content struct {
	Title        string
	Body         string
	CanonicalURL string
}

// SummaryRequest carries everything the summarizer needs for one call.
// The API key travels with the request so the durable settings store stays
// the source of truth for credentials between process recycles.
type SummaryRequest struct {
	URL             string
	Title           string
	Body            string
	APIKey          string
	Temperature     float32
	MaxOutputTokens int32
}
