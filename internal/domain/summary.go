package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgeTier buckets a summary's elapsed age and selects how much detail its
// rendering carries. Tiers are recomputed at read time, never stored.
type AgeTier string

const (
	TierRecent AgeTier = "recent" // < 24h: full rendering
	TierMid    AgeTier = "mid"    // 24-72h: compressed rendering
	TierOld    AgeTier = "old"    // > 72h: minimal rendering
)

const (
	recentMaxAge = 24 * time.Hour
	midMaxAge    = 72 * time.Hour
)

// ComputeAgeTier maps the elapsed time since a summary's end timestamp to a
// tier. Pure function of (now - end).
func ComputeAgeTier(now, end time.Time) AgeTier {
	age := now.Sub(end)
	switch {
	case age < recentMaxAge:
		return TierRecent
	case age <= midMaxAge:
		return TierMid
	default:
		return TierOld
	}
}

func AllAgeTiers() []AgeTier {
	return []AgeTier{TierRecent, TierMid, TierOld}
}

// ConversationSummary is a compressed representation of a contiguous range of
// exchanges. List fields are ordered by criticality descending, so index 0 is
// always the most critical item.
type ConversationSummary struct {
	ID            uuid.UUID `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	ExchangeCount int       `json:"exchange_count"`

	FullText     string   `json:"full_text"`
	Opening      string   `json:"opening,omitempty"`
	KeyPoints    []string `json:"key_points,omitempty"`
	KeyExchanges []string `json:"key_exchanges,omitempty"`
	Progress     []string `json:"progress,omitempty"`
	Insights     []string `json:"insights,omitempty"`
	OpenThreads  []string `json:"open_threads,omitempty"`
	Decisions    []string `json:"decisions,omitempty"`

	// Importance is advisory: used for tie-breaking in search results, never
	// for eviction order (eviction is strictly chronological).
	Importance float64 `json:"importance"`

	CreatedAt time.Time `json:"created_at"`
}

// AgeTier returns the summary's current tier as of now.
func (s ConversationSummary) AgeTier(now time.Time) AgeTier {
	return ComputeAgeTier(now, s.EndedAt)
}
