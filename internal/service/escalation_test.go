package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/memory"
	"github.com/mnemo-labs/mnemo/internal/token"
)

func TestStateFor(t *testing.T) {
	tests := []struct {
		percent float64
		want    State
	}{
		{0, StateNormal},
		{69.9, StateNormal},
		{70, StateWarning},
		{89.9, StateWarning},
		{90, StateCritical},
		{94.9, StateCritical},
		{95, StateEmergency},
		{120, StateEmergency},
	}

	for _, tt := range tests {
		if got := StateFor(tt.percent); got != tt.want {
			t.Errorf("StateFor(%v) = %v, want %v", tt.percent, got, tt.want)
		}
	}
}

func newTestController(summarizer domain.Summarizer, archive domain.ArchiveStore) *Controller {
	return NewController(summarizer, archive, nil, zap.NewNop())
}

func bufferWith(n int) *memory.WorkingBuffer {
	buf := memory.NewWorkingBuffer(token.NewCharRatio())
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		buf.Append("tell me about the thing", "here is what I know about the thing", now.Add(time.Duration(i)*time.Minute))
	}
	return buf
}

func TestEvaluateNormalNoAction(t *testing.T) {
	sum := &mockSummarizer{}
	c := newTestController(sum, newMockArchive())
	buf := bufferWith(10)
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	state, acted, err := c.Evaluate(context.Background(), "s1", 45, buf, store)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StateNormal || acted {
		t.Errorf("state = %v acted = %v, want normal/false", state, acted)
	}
	if sum.callCount() != 0 {
		t.Error("normal state invoked the summarizer")
	}
	if buf.Len() != 10 {
		t.Error("normal state mutated the buffer")
	}
}

func TestEvaluateWarningIsAdvisoryOnly(t *testing.T) {
	sum := &mockSummarizer{}
	c := newTestController(sum, newMockArchive())
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	// Even with the buffer well over its shrunken capacity, warning pressure
	// never restructures memory. Folding is reserved for critical.
	buf := bufferWith(30)
	buf.SetPressure(80) // capacity 20, overflow 10

	state, acted, err := c.Evaluate(context.Background(), "s1", 75, buf, store)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StateWarning || acted {
		t.Fatalf("state = %v acted = %v, want warning/false", state, acted)
	}
	if buf.Len() != 30 {
		t.Errorf("buffer len = %d, want untouched 30", buf.Len())
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
	if sum.callCount() != 0 {
		t.Errorf("summarizer called %d times at warning, want 0", sum.callCount())
	}
}

func TestEvaluateCriticalCompactsOldestHalf(t *testing.T) {
	sum := &mockSummarizer{}
	c := newTestController(sum, newMockArchive())
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	buf := bufferWith(10) // no overflow at capacity 35

	state, acted, err := c.Evaluate(context.Background(), "s1", 91, buf, store)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StateCritical || !acted {
		t.Fatalf("state = %v acted = %v, want critical/true", state, acted)
	}
	if buf.Len() != 5 {
		t.Errorf("buffer len = %d, want 5 after folding oldest half", buf.Len())
	}
	if buf.Snapshot()[0].Ordinal != 6 {
		t.Errorf("oldest surviving ordinal = %d, want 6", buf.Snapshot()[0].Ordinal)
	}
	if store.Len() != 1 {
		t.Errorf("store len = %d, want 1", store.Len())
	}
}

func TestEvaluateRepeatedCriticalEscalatesToCheckpoint(t *testing.T) {
	sum := &mockSummarizer{}
	archive := newMockArchive()
	c := newTestController(sum, archive)
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	buf := bufferWith(20)

	if _, _, err := c.Evaluate(context.Background(), "s1", 91, buf, store); err != nil {
		t.Fatalf("first critical: %v", err)
	}
	if archive.len() != 0 {
		t.Fatal("first critical already checkpointed")
	}

	_, acted, err := c.Evaluate(context.Background(), "s1", 91, buf, store)
	if err != nil {
		t.Fatalf("second critical: %v", err)
	}
	if !acted {
		t.Fatal("second consecutive critical did not act")
	}
	if archive.len() == 0 {
		t.Error("second consecutive critical did not reach the archive")
	}
	if buf.Len() > DefaultRetainTail {
		t.Errorf("buffer len = %d, want at most %d after checkpoint", buf.Len(), DefaultRetainTail)
	}
}

func TestEmergencyCheckpoint(t *testing.T) {
	sum := &mockSummarizer{}
	archive := newMockArchive()
	c := newTestController(sum, archive)
	est := token.NewCharRatio()

	buf := bufferWith(20)
	store := memory.NewTieredStore(est, 10)
	now := time.Now()
	for i := 0; i < 3; i++ {
		store.Add(domain.ConversationSummary{
			StartedAt: now.Add(-time.Duration(i+2) * time.Hour),
			EndedAt:   now.Add(-time.Duration(i+1) * time.Hour),
			FullText:  fmt.Sprintf("held summary %d", i),
		})
	}

	state, acted, err := c.Evaluate(context.Background(), "s1", 96, buf, store)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StateEmergency || !acted {
		t.Fatalf("state = %v acted = %v, want emergency/true", state, acted)
	}

	// Last 5 exchanges survive; held summaries are archived and the store is
	// left empty. The checkpoint lives in the archive only, reachable via
	// explicit recall rather than per-turn injection.
	if buf.Len() != DefaultRetainTail {
		t.Errorf("buffer len = %d, want %d", buf.Len(), DefaultRetainTail)
	}
	if buf.Snapshot()[0].Ordinal != 16 {
		t.Errorf("retained tail starts at ordinal %d, want 16", buf.Snapshot()[0].Ordinal)
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0 after checkpoint", store.Len())
	}
	// 3 held summaries plus the checkpoint itself.
	if archive.len() != 4 {
		t.Errorf("archive holds %d records, want 4", archive.len())
	}
}

func TestCheckpointPersistFailureClearsNothing(t *testing.T) {
	sum := &mockSummarizer{}
	archive := newMockArchive()
	archive.persistErr = context.DeadlineExceeded
	c := newTestController(sum, archive)

	buf := bufferWith(20)
	store := memory.NewTieredStore(token.NewCharRatio(), 10)
	store.Add(domain.ConversationSummary{EndedAt: time.Now(), FullText: "held"})

	_, acted, err := c.Evaluate(context.Background(), "s1", 96, buf, store)
	if err == nil {
		t.Fatal("expected persist failure to surface")
	}
	if acted {
		t.Error("failed checkpoint reported as acted")
	}
	if buf.Len() != 20 {
		t.Errorf("buffer len = %d, want untouched 20", buf.Len())
	}
	if store.Len() != 1 {
		t.Errorf("store len = %d, want untouched 1", store.Len())
	}
}

func TestCompactSummarizeFailureLeavesBufferIntact(t *testing.T) {
	sum := &mockSummarizer{err: errSummarizerDown}
	c := newTestController(sum, newMockArchive())
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	buf := bufferWith(30)
	buf.SetPressure(80) // capacity 20, overflow 10

	_, acted, err := c.Evaluate(context.Background(), "s1", 91, buf, store)
	if err == nil {
		t.Fatal("expected summarizer failure to surface")
	}
	if acted {
		t.Error("failed compaction reported as acted")
	}
	if buf.Len() != 30 {
		t.Errorf("buffer len = %d, want untouched 30", buf.Len())
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
}

func TestCompactCanceledContext(t *testing.T) {
	sum := &mockSummarizer{}
	c := newTestController(sum, newMockArchive())
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	buf := bufferWith(30)
	buf.SetPressure(80)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, acted, err := c.Evaluate(ctx, "s1", 91, buf, store)
	if err == nil {
		t.Fatal("expected context cancellation to surface")
	}
	if acted || buf.Len() != 30 {
		t.Error("canceled compaction mutated the buffer")
	}
}

func TestFoldEvictedMechanicalFallback(t *testing.T) {
	sum := &mockSummarizer{err: errSummarizerDown}
	c := newTestController(sum, newMockArchive())
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	buf := bufferWith(6)
	evicted := buf.Snapshot()[:3]

	if err := c.FoldEvicted(context.Background(), "s1", evicted, store); err != nil {
		t.Fatalf("FoldEvicted: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("store len = %d, want 1 fallback summary", store.Len())
	}

	// The mechanical summary preserves the evicted transcripts.
	s := store.Summaries()[0]
	if !strings.Contains(s.FullText, evicted[0].Transcript()) {
		t.Error("fallback summary lost evicted content")
	}
	if s.ExchangeCount != 3 {
		t.Errorf("ExchangeCount = %d, want 3", s.ExchangeCount)
	}
	if len(s.KeyPoints) == 0 || s.Opening == "" {
		t.Error("fallback summary missing key points or opening")
	}
}

func TestFoldEvictedArchivesDisplacedSummary(t *testing.T) {
	sum := &mockSummarizer{}
	archive := newMockArchive()
	c := newTestController(sum, archive)

	// One coherent clock: the held summaries predate the buffered exchanges,
	// so the displaced summary is a held one, not the fresh fold.
	est := token.NewCharRatio()
	store := memory.NewTieredStore(est, 2)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store.Add(domain.ConversationSummary{EndedAt: base.Add(-2 * time.Hour), FullText: "oldest held"})
	store.Add(domain.ConversationSummary{EndedAt: base.Add(-time.Hour), FullText: "newer held"})

	buf := bufferWith(4)
	if err := c.FoldEvicted(context.Background(), "s1", buf.Snapshot()[:2], store); err != nil {
		t.Fatalf("FoldEvicted: %v", err)
	}

	if store.Len() != 2 {
		t.Errorf("store len = %d, want capacity 2", store.Len())
	}
	if archive.len() != 1 {
		t.Fatalf("archive holds %d, want the 1 displaced summary", archive.len())
	}
	for _, rec := range archive.records {
		if rec.FullText != "oldest held" {
			t.Errorf("archived %q, want the chronologically oldest", rec.FullText)
		}
	}
}

func TestDetailForSize(t *testing.T) {
	tests := []struct {
		chars int
		want  domain.DetailTier
	}{
		{0, domain.DetailFull},
		{7_999, domain.DetailFull},
		{8_000, domain.DetailCompressed},
		{31_999, domain.DetailCompressed},
		{32_000, domain.DetailMinimal},
		{100_000, domain.DetailMinimal},
	}

	for _, tt := range tests {
		if got := detailForSize(tt.chars); got != tt.want {
			t.Errorf("detailForSize(%d) = %v, want %v", tt.chars, got, tt.want)
		}
	}
}

func TestCompactDetailShrinksWithInputSize(t *testing.T) {
	sum := &mockSummarizer{}
	c := newTestController(sum, newMockArchive())
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	// Ten verbose exchanges; the oldest half folded at critical is well over
	// the full-detail bound, so the summarizer is asked for compressed output.
	buf := memory.NewWorkingBuffer(token.NewCharRatio())
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		buf.Append(strings.Repeat("q", 900), strings.Repeat("r", 900), now.Add(time.Duration(i)*time.Minute))
	}

	if _, _, err := c.Evaluate(context.Background(), "s1", 91, buf, store); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sum.callCount() != 1 {
		t.Fatalf("summarizer called %d times, want 1", sum.callCount())
	}
	if got := sum.detailAt(0); got != domain.DetailCompressed {
		t.Errorf("detail = %v, want compressed for a ~9k char fold", got)
	}
}

func TestFoldEvictedEmptyIsNoOp(t *testing.T) {
	sum := &mockSummarizer{}
	c := newTestController(sum, newMockArchive())
	store := memory.NewTieredStore(token.NewCharRatio(), 10)

	if err := c.FoldEvicted(context.Background(), "s1", nil, store); err != nil {
		t.Fatalf("FoldEvicted(nil): %v", err)
	}
	if sum.callCount() != 0 || store.Len() != 0 {
		t.Error("empty fold did work")
	}
}
