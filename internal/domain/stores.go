package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ArchivedSummary is the durable form of a summary evicted from the tiered
// store or produced by an emergency checkpoint.
type ArchivedSummary struct {
	ID            uuid.UUID `json:"id"`
	SessionID     string    `json:"session_id"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	ExchangeCount int       `json:"exchange_count"`
	FullText      string    `json:"full_text"`
	KeyPoints     []string  `json:"key_points"`
	Importance    float64   `json:"importance"`

	// Fingerprint is a content hash used for idempotent persistence:
	// persisting the same content twice yields one retrievable entry.
	Fingerprint string    `json:"fingerprint"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArchiveSearchResult pairs an archived summary with its relevance score.
type ArchiveSearchResult struct {
	Summary ArchivedSummary `json:"summary"`
	Score   float32         `json:"score"`
}

// ArchiveStore is the durable, independently searchable memory tier. It is
// consulted only on explicit recall or during checkpoint creation, never as
// part of the default per-turn injection. Writes must be atomic per summary.
type ArchiveStore interface {
	Persist(ctx context.Context, s *ArchivedSummary) error
	Search(ctx context.Context, sessionID, query string, topK int) ([]ArchiveSearchResult, error)
	SearchSimilar(ctx context.Context, sessionID string, embedding []float32, topK int) ([]ArchiveSearchResult, error)
}

// DetailTier selects how much structure the summarizer is asked to produce.
type DetailTier string

const (
	DetailFull       DetailTier = "full"
	DetailCompressed DetailTier = "compressed"
	DetailMinimal    DetailTier = "minimal"
)

// SummaryFields is the structured output of a summarization call. List fields
// are ordered by criticality descending.
type SummaryFields struct {
	FullText     string   `json:"full_text"`
	Opening      string   `json:"opening"`
	KeyPoints    []string `json:"key_points"`
	KeyExchanges []string `json:"key_exchanges"`
	Progress     []string `json:"progress"`
	Insights     []string `json:"insights"`
	OpenThreads  []string `json:"open_threads"`
	Decisions    []string `json:"decisions"`
	Importance   float64  `json:"importance"`
}

// Summarizer is the external summarization service. Calls may fail or time
// out; callers must wrap them with a deadline and degrade gracefully.
type Summarizer interface {
	Summarize(ctx context.Context, text string, detail DetailTier) (*SummaryFields, error)
}

// EmbeddingClient produces a vector for archive similarity search.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IdentityProvider supplies the long-term profile/identity text block for a
// turn. The text is treated as opaque and pre-sized by the provider.
type IdentityProvider interface {
	IdentityText(ctx context.Context) (string, error)
}
