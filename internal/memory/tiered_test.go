package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/token"
)

func makeSummary(ended time.Time, i int) domain.ConversationSummary {
	return domain.ConversationSummary{
		ID:            uuid.New(),
		StartedAt:     ended.Add(-time.Hour),
		EndedAt:       ended,
		ExchangeCount: 10,
		FullText:      fmt.Sprintf("full text of conversation %d", i),
		Opening:       fmt.Sprintf("opening %d", i),
		KeyPoints:     []string{fmt.Sprintf("key point %d", i)},
		OpenThreads:   []string{fmt.Sprintf("open thread %d", i)},
		Decisions:     []string{fmt.Sprintf("decision %d", i)},
		CreatedAt:     ended,
	}
}

func TestTieredStoreEvictsChronologicallyOldest(t *testing.T) {
	ts := NewTieredStore(token.NewCharRatio(), 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var evicted []domain.ConversationSummary
	for i := 0; i < 12; i++ {
		if ev := ts.Add(makeSummary(base.Add(time.Duration(i)*time.Hour), i)); ev != nil {
			evicted = append(evicted, *ev)
		}
	}

	if ts.Len() != 10 {
		t.Fatalf("store holds %d summaries, want 10", ts.Len())
	}
	if len(evicted) != 2 {
		t.Fatalf("evicted %d summaries, want 2", len(evicted))
	}

	// The two oldest went first, in chronological order.
	if !evicted[0].EndedAt.Equal(base) {
		t.Errorf("first eviction ended at %v, want %v", evicted[0].EndedAt, base)
	}
	if !evicted[1].EndedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("second eviction ended at %v, want %v", evicted[1].EndedAt, base.Add(time.Hour))
	}

	// Survivors are the 10 newest, newest first.
	got := ts.Summaries()
	for i, s := range got {
		want := base.Add(time.Duration(11-i) * time.Hour)
		if !s.EndedAt.Equal(want) {
			t.Errorf("summaries[%d] ended at %v, want %v", i, s.EndedAt, want)
		}
	}
}

func TestTieredStoreEvictionTieBreak(t *testing.T) {
	ts := NewTieredStore(token.NewCharRatio(), 2)
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := makeSummary(ended, 0)
	second := makeSummary(ended, 1)
	third := makeSummary(ended, 2)

	ts.Add(first)
	ts.Add(second)
	ev := ts.Add(third)

	if ev == nil {
		t.Fatal("expected an eviction")
	}
	// Identical end timestamps: the earliest-inserted summary goes first.
	if ev.ID != first.ID {
		t.Errorf("evicted %s, want the earliest-inserted %s", ev.ID, first.ID)
	}
}

func TestTieredStoreImportanceDoesNotAffectEviction(t *testing.T) {
	ts := NewTieredStore(token.NewCharRatio(), 2)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	oldest := makeSummary(base, 0)
	oldest.Importance = 1.0 // advisory only
	newer := makeSummary(base.Add(time.Hour), 1)
	newer.Importance = 0.1
	newest := makeSummary(base.Add(2*time.Hour), 2)

	ts.Add(oldest)
	ts.Add(newer)
	ev := ts.Add(newest)

	if ev == nil || ev.ID != oldest.ID {
		t.Error("high importance protected a summary from chronological eviction")
	}
}

func TestTieredStoreClear(t *testing.T) {
	ts := NewTieredStore(token.NewCharRatio(), 10)
	base := time.Now()
	for i := 0; i < 4; i++ {
		ts.Add(makeSummary(base.Add(time.Duration(i)*time.Hour), i))
	}

	cleared := ts.Clear()
	if len(cleared) != 4 {
		t.Fatalf("Clear returned %d summaries, want 4", len(cleared))
	}
	if ts.Len() != 0 {
		t.Fatalf("store holds %d after Clear, want 0", ts.Len())
	}
}

func TestRenderingsShrinkWithAge(t *testing.T) {
	est := token.NewCharRatio()
	s := makeSummary(time.Now(), 0)
	s.Progress = []string{"progress item"}
	s.Insights = []string{"insight"}

	recent := est.Estimate(RendererFor(domain.TierRecent).Render(s))
	mid := est.Estimate(RendererFor(domain.TierMid).Render(s))
	old := est.Estimate(RendererFor(domain.TierOld).Render(s))

	if recent < mid {
		t.Errorf("recent rendering (%d) cheaper than mid (%d)", recent, mid)
	}
	if mid < old {
		t.Errorf("mid rendering (%d) cheaper than old (%d)", mid, old)
	}
}

func TestMinimalRendererFallsBackToKeyPoint(t *testing.T) {
	s := makeSummary(time.Now(), 0)
	s.Decisions = nil

	out := RendererFor(domain.TierOld).Render(s)
	want := "Decision: key point 0\n"
	if !strings.Contains(out, want) {
		t.Errorf("minimal rendering missing key-point fallback:\n%s", out)
	}
}

func TestInjectNewestFirstWithinBudget(t *testing.T) {
	est := token.NewCharRatio()
	ts := NewTieredStore(est, 10)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	// Three recent summaries, all within 24h so every rendering is full-tier.
	// Summary 2 is the newest and sits at the head of the store.
	var costs []int
	for i := 0; i < 3; i++ {
		s := makeSummary(now.Add(-time.Duration(3-i)*time.Hour), i)
		ts.Add(s)
		costs = append(costs, est.Estimate(RendererFor(domain.TierRecent).Render(s)))
	}

	// Budget covers the newest two but not the third.
	budget := costs[2] + costs[1] + costs[0]/2

	res := ts.Inject(budget)
	if res.Injected != 2 {
		t.Fatalf("injected %d summaries, want 2", res.Injected)
	}
	if res.Skipped != 1 {
		t.Fatalf("skipped %d summaries, want 1", res.Skipped)
	}
	if res.Tokens > budget {
		t.Fatalf("injected %d tokens over budget %d", res.Tokens, budget)
	}
	if got := est.Estimate(res.Text); got > budget {
		t.Fatalf("measured injected text %d tokens over budget %d", got, budget)
	}
	// The newest two are injected; the oldest is not.
	if !strings.Contains(res.Text, "opening 2") || !strings.Contains(res.Text, "opening 1") {
		t.Fatalf("injected text missing expected summaries:\n%s", res.Text)
	}
	if strings.Contains(res.Text, "opening 0") {
		t.Fatalf("over-budget summary was injected:\n%s", res.Text)
	}
}

func TestInjectStopsAtFirstOverBudget(t *testing.T) {
	est := token.NewCharRatio()
	ts := NewTieredStore(est, 10)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	// Newest summary has a huge opening; the older ones are tiny. Iteration
	// stops at the first over-budget summary rather than cherry-picking the
	// cheap older ones.
	big := makeSummary(now.Add(-time.Hour), 0)
	big.Opening = strings.Repeat("x", 4000)
	small := makeSummary(now.Add(-2*time.Hour), 1)

	ts.Add(small)
	ts.Add(big)

	res := ts.Inject(100)
	if res.Injected != 0 {
		t.Fatalf("injected %d summaries, want 0", res.Injected)
	}
	if res.Skipped != 2 {
		t.Fatalf("skipped %d summaries, want 2", res.Skipped)
	}
	if res.Text != "" {
		t.Fatalf("injected text should be empty, got %d bytes", len(res.Text))
	}
}

func TestInjectZeroBudget(t *testing.T) {
	ts := NewTieredStore(token.NewCharRatio(), 10)
	ts.Add(makeSummary(time.Now(), 0))

	res := ts.Inject(0)
	if res.Injected != 0 || res.Text != "" {
		t.Errorf("zero budget injected %d summaries, %d bytes", res.Injected, len(res.Text))
	}
	if res.Skipped != 1 {
		t.Errorf("skipped %d, want 1", res.Skipped)
	}
}

func TestInjectNeverExceedsBudget(t *testing.T) {
	est := token.NewCharRatio()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Mixed ages so all three renderers participate.
	ages := []time.Duration{
		2 * time.Hour, 30 * time.Hour, 100 * time.Hour,
		5 * time.Hour, 50 * time.Hour, 200 * time.Hour,
	}

	for _, budget := range []int{0, 10, 50, 100, 500, 5000} {
		ts := NewTieredStore(est, 10)
		ts.now = func() time.Time { return now }
		for i, age := range ages {
			ts.Add(makeSummary(now.Add(-age), i))
		}

		res := ts.Inject(budget)
		if res.Tokens > budget {
			t.Errorf("budget %d: reported %d tokens", budget, res.Tokens)
		}
		if got := est.Estimate(res.Text); got > budget {
			t.Errorf("budget %d: measured %d tokens", budget, got)
		}
		if res.Injected+res.Skipped != len(ages) {
			t.Errorf("budget %d: injected %d + skipped %d != %d", budget, res.Injected, res.Skipped, len(ages))
		}
	}
}
