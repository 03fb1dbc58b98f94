package memory

import (
	"time"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/token"
)

// pressureTier maps an upper bound on overall context usage to a working
// buffer capacity. The table is evaluated top-down, first match wins.
type pressureTier struct {
	UpperPercent float64
	Capacity     int
}

var defaultPressureTiers = []pressureTier{
	{UpperPercent: 60, Capacity: 35},
	{UpperPercent: 75, Capacity: 25},
	{UpperPercent: 85, Capacity: 20},
}

// minCapacity applies at or above the last tier's bound.
const minCapacity = 15

// CapacityForUsage returns the working buffer capacity for a given overall
// usage percentage.
func CapacityForUsage(percent float64) int {
	for _, t := range defaultPressureTiers {
		if percent < t.UpperPercent {
			return t.Capacity
		}
	}
	return minCapacity
}

// WorkingBuffer holds the most recent exchanges verbatim for perfect
// short-term recall. It is purely in-memory and intentionally not durable:
// durability lives in the archive after compaction. Append never fails.
type WorkingBuffer struct {
	estimator   token.Estimator
	exchanges   []domain.Exchange
	capacity    int
	nextOrdinal int
}

func NewWorkingBuffer(est token.Estimator) *WorkingBuffer {
	return &WorkingBuffer{
		estimator:   est,
		capacity:    CapacityForUsage(0),
		nextOrdinal: 1,
	}
}

// SetPressure re-evaluates capacity from the previous turn's usage. Shrinking
// capacity does not retroactively evict; eviction only happens via Append.
func (b *WorkingBuffer) SetPressure(usagePercent float64) {
	b.capacity = CapacityForUsage(usagePercent)
}

func (b *WorkingBuffer) Capacity() int { return b.capacity }

func (b *WorkingBuffer) Len() int { return len(b.exchanges) }

// Append adds an exchange at the tail, assigning the next ordinal. If the
// buffer exceeds its current capacity the oldest exchanges are evicted and
// returned; the caller must fold them into a summary rather than drop them.
func (b *WorkingBuffer) Append(userText, agentText string, now time.Time) (domain.Exchange, []domain.Exchange) {
	ex := domain.Exchange{
		Ordinal:   b.nextOrdinal,
		UserText:  userText,
		AgentText: agentText,
		CreatedAt: now,
	}
	ex.Tokens = b.estimator.Estimate(ex.Transcript())
	b.nextOrdinal++

	b.exchanges = append(b.exchanges, ex)

	over := len(b.exchanges) - b.capacity
	if over <= 0 {
		return ex, nil
	}

	evicted := make([]domain.Exchange, over)
	copy(evicted, b.exchanges[:over])
	b.exchanges = append(b.exchanges[:0], b.exchanges[over:]...)
	return ex, evicted
}

// Snapshot returns a read-only copy of the buffered exchanges, oldest first.
func (b *WorkingBuffer) Snapshot() []domain.Exchange {
	out := make([]domain.Exchange, len(b.exchanges))
	copy(out, b.exchanges)
	return out
}

// Overflow returns a copy of the oldest exchanges beyond the current
// capacity, without removing them. Pair with TrimHead once the caller has
// safely folded them into a summary.
func (b *WorkingBuffer) Overflow() []domain.Exchange {
	over := len(b.exchanges) - b.capacity
	if over <= 0 {
		return nil
	}
	out := make([]domain.Exchange, over)
	copy(out, b.exchanges[:over])
	return out
}

// TrimHead removes the n oldest exchanges.
func (b *WorkingBuffer) TrimHead(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.exchanges) {
		n = len(b.exchanges)
	}
	b.exchanges = append(b.exchanges[:0], b.exchanges[n:]...)
}

// RetainTail drops everything except the last n exchanges and returns the
// dropped prefix, oldest first. Used by emergency checkpointing.
func (b *WorkingBuffer) RetainTail(n int) []domain.Exchange {
	if n < 0 {
		n = 0
	}
	drop := len(b.exchanges) - n
	if drop <= 0 {
		return nil
	}
	dropped := make([]domain.Exchange, drop)
	copy(dropped, b.exchanges[:drop])
	b.exchanges = append(b.exchanges[:0], b.exchanges[drop:]...)
	return dropped
}

// EstimatedTokens is the summed token estimate of the buffered transcripts.
func (b *WorkingBuffer) EstimatedTokens() int {
	total := 0
	for _, ex := range b.exchanges {
		total += ex.Tokens
	}
	return total
}
