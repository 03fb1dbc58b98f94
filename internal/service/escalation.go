package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/memory"
)

// Escalation constants
const (
	WarningThresholdPercent   = 70.0
	CriticalThresholdPercent  = 90.0
	EmergencyThresholdPercent = 95.0

	// DefaultRetainTail is how many recent exchanges survive a checkpoint.
	DefaultRetainTail = 5

	// DefaultSummarizeTimeout bounds each summarizer call so a slow provider
	// cannot stall a turn indefinitely.
	DefaultSummarizeTimeout = 30 * time.Second

	// criticalStreakLimit: consecutive CRITICAL evaluations before compaction
	// is judged ineffective and escalates to a checkpoint.
	criticalStreakLimit = 2

	fallbackSnippetLen = 100
	fallbackMaxPoints  = 5

	// Input sizes above these bounds step the summarizer down to terser
	// detail tiers, keeping the output proportionate to what it replaces.
	compressedDetailChars = 8_000
	minimalDetailChars    = 32_000
)

// detailForSize picks the summarization detail tier for an input of the
// given size.
func detailForSize(chars int) domain.DetailTier {
	switch {
	case chars >= minimalDetailChars:
		return domain.DetailMinimal
	case chars >= compressedDetailChars:
		return domain.DetailCompressed
	default:
		return domain.DetailFull
	}
}

// State is the pressure level derived from one usage report.
type State string

const (
	StateNormal    State = "normal"
	StateWarning   State = "warning"
	StateCritical  State = "critical"
	StateEmergency State = "emergency"
)

// StateFor maps overall usage to a pressure state. Thresholds are inclusive
// lower bounds.
func StateFor(percent float64) State {
	switch {
	case percent >= EmergencyThresholdPercent:
		return StateEmergency
	case percent >= CriticalThresholdPercent:
		return StateCritical
	case percent >= WarningThresholdPercent:
		return StateWarning
	default:
		return StateNormal
	}
}

// Controller decides and executes the compaction response to context
// pressure. It mutates the buffer and the tiered store only after the
// replacement summary exists; a failed summarizer leaves state untouched.
type Controller struct {
	summarizer domain.Summarizer
	archive    domain.ArchiveStore
	embedder   domain.EmbeddingClient
	logger     *zap.Logger

	timeout    time.Duration
	retainTail int

	criticalStreak int
	now            func() time.Time
}

func NewController(summarizer domain.Summarizer, archive domain.ArchiveStore, embedder domain.EmbeddingClient, logger *zap.Logger) *Controller {
	return &Controller{
		summarizer: summarizer,
		archive:    archive,
		embedder:   embedder,
		logger:     logger,
		timeout:    DefaultSummarizeTimeout,
		retainTail: DefaultRetainTail,
		now:        time.Now,
	}
}

// Evaluate inspects the usage percentage and acts. It returns the state, and
// whether it mutated the buffer or store (the caller should reassemble when
// it did). Compaction failures degrade: the error is returned for logging but
// memory state is never left half-mutated.
func (c *Controller) Evaluate(ctx context.Context, sessionID string, percent float64, buf *memory.WorkingBuffer, store *memory.TieredStore) (State, bool, error) {
	state := StateFor(percent)

	if state == StateCritical {
		c.criticalStreak++
	} else {
		c.criticalStreak = 0
	}

	switch state {
	case StateNormal:
		return state, false, nil

	case StateWarning:
		// Advisory only, no structural change. The shrunken capacity evicts
		// naturally on the next append; folding is reserved for critical.
		c.logger.Warn("context pressure warning",
			zap.String("session_id", sessionID),
			zap.Float64("percent", percent),
			zap.Int("buffer_overflow", len(buf.Overflow())))
		return state, false, nil

	case StateCritical:
		if c.criticalStreak >= criticalStreakLimit {
			c.logger.Warn("repeated critical pressure, escalating to checkpoint",
				zap.String("session_id", sessionID),
				zap.Int("critical_streak", c.criticalStreak))
			acted, err := c.Checkpoint(ctx, sessionID, buf, store)
			return state, acted, err
		}
		victims := buf.Overflow()
		if len(victims) == 0 {
			// Nothing overflows yet pressure is critical: compact the oldest
			// half of the buffer.
			snap := buf.Snapshot()
			victims = snap[:len(snap)/2]
		}
		if len(victims) == 0 {
			return state, false, nil
		}
		acted, err := c.compact(ctx, sessionID, victims, buf, store)
		return state, acted, err

	default: // StateEmergency
		acted, err := c.Checkpoint(ctx, sessionID, buf, store)
		return state, acted, err
	}
}

// compact summarizes the given head exchanges, installs the summary in the
// tiered store, and only then trims the buffer. Summarizer failure leaves the
// buffer intact.
func (c *Controller) compact(ctx context.Context, sessionID string, victims []domain.Exchange, buf *memory.WorkingBuffer, store *memory.TieredStore) (bool, error) {
	before := buf.EstimatedTokens()

	summary, err := c.summarizeExchanges(ctx, victims)
	if err != nil {
		c.logger.Error("compaction summarize failed, buffer left intact",
			zap.String("session_id", sessionID),
			zap.Int("exchanges", len(victims)),
			zap.Error(err))
		return false, fmt.Errorf("compact: %w", err)
	}

	buf.TrimHead(len(victims))
	if evicted := store.Add(*summary); evicted != nil {
		c.archiveSummary(ctx, sessionID, *evicted)
	}

	c.logger.Info("compacted working memory",
		zap.String("session_id", sessionID),
		zap.Int("exchanges_folded", len(victims)),
		zap.Int("buffer_tokens_before", before),
		zap.Int("buffer_tokens_after", buf.EstimatedTokens()))
	return true, nil
}

// Checkpoint consolidates the entire session state into a single archived
// summary. Buffer and store are cleared only after the archive write is
// confirmed; a persist failure leaves everything in place.
func (c *Controller) Checkpoint(ctx context.Context, sessionID string, buf *memory.WorkingBuffer, store *memory.TieredStore) (bool, error) {
	snapshot := buf.Snapshot()
	held := store.Summaries()
	if len(snapshot) == 0 && len(held) == 0 {
		return false, nil
	}

	var sb strings.Builder
	for _, s := range held {
		sb.WriteString(s.FullText)
		sb.WriteString("\n\n")
	}
	for _, ex := range snapshot {
		sb.WriteString(ex.Transcript())
		sb.WriteString("\n")
	}

	fields, err := c.summarize(ctx, sb.String(), detailForSize(sb.Len()))
	if err != nil {
		c.logger.Error("checkpoint summarize failed, state left intact",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return false, fmt.Errorf("checkpoint: %w", err)
	}

	started, ended := boundsOf(snapshot, held)
	checkpoint := c.buildSummary(*fields, started, ended, len(snapshot))

	// Persist the held summaries first so none is lost, then the
	// consolidated checkpoint itself. Any failure aborts before clearing.
	for _, s := range held {
		if err := c.persist(ctx, sessionID, s); err != nil {
			return false, fmt.Errorf("checkpoint: archive summary %s: %w", s.ID, err)
		}
	}
	if err := c.persist(ctx, sessionID, checkpoint); err != nil {
		return false, fmt.Errorf("checkpoint: archive checkpoint: %w", err)
	}

	// Continuity after a checkpoint comes from the retained exchanges and
	// explicit archive recall; the checkpoint never re-enters the per-turn
	// injection pool.
	dropped := buf.RetainTail(c.retainTail)
	cleared := store.Clear()
	c.criticalStreak = 0

	c.logger.Info("emergency checkpoint complete",
		zap.String("session_id", sessionID),
		zap.Int("exchanges_dropped", len(dropped)),
		zap.Int("exchanges_retained", buf.Len()),
		zap.Int("summaries_archived", len(cleared)+1))
	return true, nil
}

// FoldEvicted turns exchanges evicted by the working buffer into a summary in
// the tiered store. Eviction has already happened, so a summarizer failure
// must not lose the content: a mechanical local summary stands in instead.
func (c *Controller) FoldEvicted(ctx context.Context, sessionID string, evicted []domain.Exchange, store *memory.TieredStore) error {
	if len(evicted) == 0 {
		return nil
	}

	summary, err := c.summarizeExchanges(ctx, evicted)
	if err != nil {
		c.logger.Warn("summarizer unavailable, folding evicted exchanges mechanically",
			zap.String("session_id", sessionID),
			zap.Int("exchanges", len(evicted)),
			zap.Error(err))
		fields := fallbackFields(evicted)
		started, ended := boundsOf(evicted, nil)
		s := c.buildSummary(fields, started, ended, len(evicted))
		summary = &s
	}

	if out := store.Add(*summary); out != nil {
		c.archiveSummary(ctx, sessionID, *out)
	}
	return nil
}

func (c *Controller) summarizeExchanges(ctx context.Context, exchanges []domain.Exchange) (*domain.ConversationSummary, error) {
	var sb strings.Builder
	for _, ex := range exchanges {
		sb.WriteString(ex.Transcript())
		sb.WriteString("\n")
	}

	fields, err := c.summarize(ctx, sb.String(), detailForSize(sb.Len()))
	if err != nil {
		return nil, err
	}
	started, ended := boundsOf(exchanges, nil)
	s := c.buildSummary(*fields, started, ended, len(exchanges))
	return &s, nil
}

func (c *Controller) summarize(ctx context.Context, text string, detail domain.DetailTier) (*domain.SummaryFields, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.summarizer.Summarize(ctx, text, detail)
}

func (c *Controller) buildSummary(fields domain.SummaryFields, started, ended time.Time, count int) domain.ConversationSummary {
	return domain.ConversationSummary{
		ID:            uuid.New(),
		StartedAt:     started,
		EndedAt:       ended,
		ExchangeCount: count,
		FullText:      fields.FullText,
		Opening:       fields.Opening,
		KeyPoints:     fields.KeyPoints,
		KeyExchanges:  fields.KeyExchanges,
		Progress:      fields.Progress,
		Insights:      fields.Insights,
		OpenThreads:   fields.OpenThreads,
		Decisions:     fields.Decisions,
		Importance:    fields.Importance,
		CreatedAt:     c.now(),
	}
}

// archiveSummary persists a summary evicted from the tiered store. The
// content already left working state, so a failed write is logged and
// swallowed rather than failing the turn.
func (c *Controller) archiveSummary(ctx context.Context, sessionID string, s domain.ConversationSummary) {
	if err := c.persist(ctx, sessionID, s); err != nil {
		c.logger.Error("failed to archive evicted summary",
			zap.String("session_id", sessionID),
			zap.String("summary_id", s.ID.String()),
			zap.Error(err))
		return
	}
	c.logger.Info("archived evicted summary",
		zap.String("session_id", sessionID),
		zap.String("summary_id", s.ID.String()))
}

func (c *Controller) persist(ctx context.Context, sessionID string, s domain.ConversationSummary) error {
	rec := &domain.ArchivedSummary{
		ID:            s.ID,
		SessionID:     sessionID,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		ExchangeCount: s.ExchangeCount,
		FullText:      s.FullText,
		KeyPoints:     s.KeyPoints,
		Importance:    s.Importance,
	}
	if c.embedder != nil {
		vec, err := c.embedder.Embed(ctx, s.FullText)
		if err != nil {
			c.logger.Warn("embedding failed, archiving without vector",
				zap.String("summary_id", s.ID.String()),
				zap.Error(err))
		} else {
			rec.Embedding = vec
		}
	}
	return c.archive.Persist(ctx, rec)
}

// fallbackFields builds a summary without a summarizer: opening snippet plus
// one clipped key point per exchange. Verbose but lossless enough to stand in
// until the provider recovers.
func fallbackFields(exchanges []domain.Exchange) domain.SummaryFields {
	fields := domain.SummaryFields{
		Opening: snippet(exchanges[0].UserText),
	}

	var sb strings.Builder
	for _, ex := range exchanges {
		sb.WriteString(ex.Transcript())
		sb.WriteString("\n")
		if len(fields.KeyPoints) < fallbackMaxPoints {
			fields.KeyPoints = append(fields.KeyPoints, snippet(ex.UserText))
		}
	}
	fields.FullText = sb.String()
	return fields
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= fallbackSnippetLen {
		return text
	}
	cut := fallbackSnippetLen
	for cut > 0 && !isSpaceByte(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = fallbackSnippetLen
	}
	return strings.TrimSpace(text[:cut]) + "..."
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

func boundsOf(exchanges []domain.Exchange, summaries []domain.ConversationSummary) (started, ended time.Time) {
	for _, s := range summaries {
		if started.IsZero() || s.StartedAt.Before(started) {
			started = s.StartedAt
		}
		if s.EndedAt.After(ended) {
			ended = s.EndedAt
		}
	}
	for _, ex := range exchanges {
		if started.IsZero() || ex.CreatedAt.Before(started) {
			started = ex.CreatedAt
		}
		if ex.CreatedAt.After(ended) {
			ended = ex.CreatedAt
		}
	}
	return started, ended
}
