// Package model holds the shared data entities of the ingestion pipeline.
package model

import "time"

// PublicationRecord is a single publication parsed from the research
// portal. Records are constructed by the portal client, immutable once
// scored, and persisted exactly once keyed by SourceID.
type PublicationRecord struct {
	// SourceID is the stable external identifier used for deduplication:
	// the DOI when the portal exposes one, otherwise the canonical
	// publication URL, otherwise a content hash.
	SourceID string `json:"source_id"`

	Title           string    `json:"title"`
	Authors         []string  `json:"authors"`
	Abstract        string    `json:"abstract"`
	Department      string    `json:"department,omitempty"`
	PublicationType string    `json:"publication_type,omitempty"`
	DOI             string    `json:"doi,omitempty"`
	URL             string    `json:"url"`
	PublishedDate   time.Time `json:"published_date"`

	// RawText is the concatenated text block submitted for scoring,
	// built with personal information already scrubbed out.
	RawText string `json:"raw_text"`

	ScrapedAt time.Time `json:"scraped_at"`
}

// ScoreResult is the analyzer's verdict for one record. Attached 1:1 to
// a PublicationRecord and never mutated after creation.
type ScoreResult struct {
	// Score is on a 0-10 scale; 10 is the strongest startup potential.
	Score     float64   `json:"score"`
	Rationale string    `json:"rationale"`
	Model     string    `json:"model"`
	ScoredAt  time.Time `json:"scored_at"`
}
