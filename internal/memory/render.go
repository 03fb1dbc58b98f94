package memory

import (
	"strings"
	"time"

	"github.com/mnemo-labs/mnemo/internal/domain"
)

// Bounds on list fields per rendering. Targets, not hard caps: actual token
// cost is always measured via the estimator, never assumed.
const (
	maxKeyPoints     = 5
	maxProgressItems = 3
	maxInsights      = 3
	maxOpenThreads   = 3
)

// Renderer produces the text injected into context for one summary. Each age
// tier has its own rendering strategy; the three renderings are mutually
// exclusive and strictly shrink with age.
type Renderer interface {
	Render(s domain.ConversationSummary) string
}

// RendererFor returns the rendering strategy for an age tier.
func RendererFor(tier domain.AgeTier) Renderer {
	switch tier {
	case domain.TierRecent:
		return fullRenderer{}
	case domain.TierMid:
		return compressedRenderer{}
	default:
		return minimalRenderer{}
	}
}

func renderHeader(sb *strings.Builder, s domain.ConversationSummary) {
	sb.WriteString("[Conversation summary ")
	sb.WriteString(s.StartedAt.Format(time.RFC3339))
	sb.WriteString(" – ")
	sb.WriteString(s.EndedAt.Format(time.RFC3339))
	sb.WriteString("]\n")
}

func renderList(sb *strings.Builder, heading string, items []string, max int) {
	if len(items) == 0 {
		return
	}
	if len(items) > max {
		items = items[:max]
	}
	sb.WriteString(heading)
	sb.WriteString(":\n")
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
}

// fullRenderer is the recent-tier rendering: opening exchange, key points,
// progress, insights, and unfinished threads.
type fullRenderer struct{}

func (fullRenderer) Render(s domain.ConversationSummary) string {
	var sb strings.Builder
	renderHeader(&sb, s)
	if s.Opening != "" {
		sb.WriteString("Opening: ")
		sb.WriteString(s.Opening)
		sb.WriteString("\n")
	}
	renderList(&sb, "Key points", s.KeyPoints, maxKeyPoints)
	renderList(&sb, "Progress", s.Progress, maxProgressItems)
	renderList(&sb, "Insights", s.Insights, maxInsights)
	renderList(&sb, "Unfinished threads", s.OpenThreads, maxOpenThreads)
	return sb.String()
}

// compressedRenderer is the mid-tier rendering: key points plus the single
// most critical unfinished thread.
type compressedRenderer struct{}

func (compressedRenderer) Render(s domain.ConversationSummary) string {
	var sb strings.Builder
	renderHeader(&sb, s)
	renderList(&sb, "Key points", s.KeyPoints, maxKeyPoints)
	if len(s.OpenThreads) > 0 {
		sb.WriteString("Unfinished: ")
		sb.WriteString(s.OpenThreads[0])
		sb.WriteString("\n")
	}
	return sb.String()
}

// minimalRenderer is the old-tier rendering: the single most critical
// decision and the single most critical unfinished thread.
type minimalRenderer struct{}

func (minimalRenderer) Render(s domain.ConversationSummary) string {
	var sb strings.Builder
	renderHeader(&sb, s)
	switch {
	case len(s.Decisions) > 0:
		sb.WriteString("Decision: ")
		sb.WriteString(s.Decisions[0])
		sb.WriteString("\n")
	case len(s.KeyPoints) > 0:
		sb.WriteString("Decision: ")
		sb.WriteString(s.KeyPoints[0])
		sb.WriteString("\n")
	}
	if len(s.OpenThreads) > 0 {
		sb.WriteString("Unfinished: ")
		sb.WriteString(s.OpenThreads[0])
		sb.WriteString("\n")
	}
	return sb.String()
}
