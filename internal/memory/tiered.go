package memory

import (
	"strings"
	"time"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/token"
)

// DefaultMaxSummaries caps the tiered store.
const DefaultMaxSummaries = 10

// DefaultSummaryBudget is the default per-turn token allotment for injected
// summaries (25% of a 200,000-token ceiling).
const DefaultSummaryBudget = 50_000

// TieredStore retains a bounded, age-aware set of mid-term summaries, newest
// first. It never calls the archive itself: evicted summaries are returned to
// the caller, which is responsible for archiving them.
type TieredStore struct {
	estimator token.Estimator
	max       int
	summaries []domain.ConversationSummary
	now       func() time.Time
}

func NewTieredStore(est token.Estimator, maxSummaries int) *TieredStore {
	if maxSummaries <= 0 {
		maxSummaries = DefaultMaxSummaries
	}
	return &TieredStore{
		estimator: est,
		max:       maxSummaries,
		now:       time.Now,
	}
}

func (ts *TieredStore) Len() int { return len(ts.summaries) }

func (ts *TieredStore) Max() int { return ts.max }

// Add inserts a summary at the head (most recent first). If the store exceeds
// its capacity, the chronologically oldest summary is evicted and returned;
// on identical end timestamps the earlier-inserted one is evicted first.
// Importance never influences eviction order.
func (ts *TieredStore) Add(s domain.ConversationSummary) *domain.ConversationSummary {
	ts.summaries = append([]domain.ConversationSummary{s}, ts.summaries...)
	if len(ts.summaries) <= ts.max {
		return nil
	}

	// Oldest end timestamp; scan back-to-front so ties resolve to the entry
	// nearest the tail, which was inserted earliest.
	oldest := len(ts.summaries) - 1
	for i := len(ts.summaries) - 2; i >= 0; i-- {
		if ts.summaries[i].EndedAt.Before(ts.summaries[oldest].EndedAt) {
			oldest = i
		}
	}

	evicted := ts.summaries[oldest]
	ts.summaries = append(ts.summaries[:oldest], ts.summaries[oldest+1:]...)
	return &evicted
}

// Summaries returns a copy, newest first.
func (ts *TieredStore) Summaries() []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, len(ts.summaries))
	copy(out, ts.summaries)
	return out
}

// Clear empties the store and returns what it held. Only emergency
// checkpointing is permitted to call this.
func (ts *TieredStore) Clear() []domain.ConversationSummary {
	out := ts.summaries
	ts.summaries = nil
	return out
}

// InjectResult reports what Inject produced, for observability.
type InjectResult struct {
	Text     string
	Tokens   int
	Injected int
	Skipped  int
}

// Inject renders summaries most-recent-first at their current age tier,
// accumulating measured token cost. The first summary whose addition would
// exceed the budget is not injected and iteration stops; all older summaries
// are skipped. No reordering, no partial summary injection: a truncated
// summary risks conveying false or incomplete facts.
func (ts *TieredStore) Inject(budget int) InjectResult {
	var res InjectResult
	now := ts.now()

	// Renderings end with a newline, so plain concatenation keeps the summed
	// per-summary estimates an upper bound on the estimate of the whole.
	var sb strings.Builder
	for i, s := range ts.summaries {
		rendered := RendererFor(s.AgeTier(now)).Render(s)
		cost := ts.estimator.Estimate(rendered)
		if res.Tokens+cost > budget {
			res.Skipped = len(ts.summaries) - i
			break
		}
		sb.WriteString(rendered)
		res.Tokens += cost
		res.Injected++
	}
	res.Text = sb.String()
	return res
}
