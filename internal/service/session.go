package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/memory"
	"github.com/mnemo-labs/mnemo/internal/token"
)

// DefaultSearchTopK caps archive search results when the caller does not ask
// for a specific count.
const DefaultSearchTopK = 5

// SessionConfig carries the per-session tuning knobs.
type SessionConfig struct {
	Ceiling          int
	SummaryBudget    int
	MaxSummaries     int
	RetainTail       int
	SummarizeTimeout time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Ceiling:          DefaultCeiling,
		SummaryBudget:    memory.DefaultSummaryBudget,
		MaxSummaries:     memory.DefaultMaxSummaries,
		RetainTail:       DefaultRetainTail,
		SummarizeTimeout: DefaultSummarizeTimeout,
	}
}

// Session owns one conversation's memory state: the working buffer, the
// tiered summary store, and the per-turn assembly and escalation machinery.
// All methods are safe for concurrent use; state mutates under one mutex so a
// turn observes a consistent view.
type Session struct {
	id string

	mu        sync.Mutex
	buffer    *memory.WorkingBuffer
	summaries *memory.TieredStore

	assembler  *Assembler
	controller *Controller
	identity   domain.IdentityProvider
	archive    domain.ArchiveStore
	embedder   domain.EmbeddingClient
	estimator  token.Estimator
	logger     *zap.Logger

	lastPercent float64
}

func NewSession(
	id string,
	cfg SessionConfig,
	summarizer domain.Summarizer,
	archive domain.ArchiveStore,
	embedder domain.EmbeddingClient,
	identity domain.IdentityProvider,
	estimator token.Estimator,
	logger *zap.Logger,
) *Session {
	logger = logger.With(zap.String("session_id", id))

	controller := NewController(summarizer, archive, embedder, logger)
	if cfg.RetainTail > 0 {
		controller.retainTail = cfg.RetainTail
	}
	if cfg.SummarizeTimeout > 0 {
		controller.timeout = cfg.SummarizeTimeout
	}

	return &Session{
		id:         id,
		buffer:     memory.NewWorkingBuffer(estimator),
		summaries:  memory.NewTieredStore(estimator, cfg.MaxSummaries),
		assembler:  NewAssembler(estimator, AssemblerConfig{Ceiling: cfg.Ceiling, SummaryBudget: cfg.SummaryBudget}, logger),
		controller: controller,
		identity:   identity,
		archive:    archive,
		embedder:   embedder,
		estimator:  estimator,
		logger:     logger,
	}
}

func (s *Session) ID() string { return s.id }

// ContextForTurn assembles the payload for the next model call. Buffer
// capacity is re-tiered from the previous turn's usage before assembly; after
// assembly the escalation controller may compact or checkpoint, in which case
// the payload is assembled a second time from the reduced state.
func (s *Session) ContextForTurn(ctx context.Context, systemText string) (*domain.Payload, *domain.UsageReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.SetPressure(s.lastPercent)

	identityText, err := s.identity.IdentityText(ctx)
	if err != nil {
		// Identity is additive context, never load-bearing for the turn.
		s.logger.Warn("identity unavailable, assembling without it", zap.Error(err))
		identityText = ""
	}

	payload, report, err := s.assembler.Assemble(systemText, identityText, s.buffer.Snapshot(), s.summaries)
	if err != nil {
		return nil, report, fmt.Errorf("assemble: %w", err)
	}

	state, acted, err := s.controller.Evaluate(ctx, s.id, report.Percent, s.buffer, s.summaries)
	if err != nil {
		// Compaction failure degrades the turn, it does not fail it: the
		// payload assembled above is still valid and under the ceiling.
		s.logger.Error("escalation action failed", zap.String("state", string(state)), zap.Error(err))
	}
	if acted {
		payload, report, err = s.assembler.Assemble(systemText, identityText, s.buffer.Snapshot(), s.summaries)
		if err != nil {
			return nil, report, fmt.Errorf("reassemble after %s: %w", state, err)
		}
	}

	s.lastPercent = report.Percent
	s.logger.Info("assembled turn context",
		zap.Int("total_tokens", report.TotalTokens),
		zap.Float64("percent", report.Percent),
		zap.String("state", string(StateFor(report.Percent))),
		zap.Int("exchanges", s.buffer.Len()),
		zap.Int("summaries_injected", report.SummariesInjected))
	return payload, report, nil
}

// RecordExchange appends a completed user/agent exchange. Exchanges evicted
// by the capacity bound are folded into a summary immediately so their
// content survives the turn that displaced them.
func (s *Session) RecordExchange(ctx context.Context, userText, agentText string) (domain.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, evicted := s.buffer.Append(userText, agentText, time.Now())
	if len(evicted) > 0 {
		s.logger.Info("working buffer at capacity, folding oldest exchanges",
			zap.Int("evicted", len(evicted)),
			zap.Int("capacity", s.buffer.Capacity()))
		if err := s.controller.FoldEvicted(ctx, s.id, evicted, s.summaries); err != nil {
			return ex, fmt.Errorf("fold evicted: %w", err)
		}
	}
	return ex, nil
}

// Status is the externally visible snapshot of a session's memory state.
type Status struct {
	SessionID       string  `json:"session_id"`
	Enabled         bool    `json:"enabled"`
	Exchanges       int     `json:"exchanges"`
	BufferCapacity  int     `json:"buffer_capacity"`
	SummariesLoaded int     `json:"summaries_loaded"`
	MaxSummaries    int     `json:"max_summaries"`
	TokenCeiling    int     `json:"token_ceiling"`
	EstimatedTokens int     `json:"estimated_tokens"`
	UsagePercent    float64 `json:"usage_percent"`
	State           State   `json:"state"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		SessionID:       s.id,
		Enabled:         true,
		Exchanges:       s.buffer.Len(),
		BufferCapacity:  s.buffer.Capacity(),
		SummariesLoaded: s.summaries.Len(),
		MaxSummaries:    s.summaries.Max(),
		TokenCeiling:    s.assembler.Ceiling(),
		EstimatedTokens: s.buffer.EstimatedTokens(),
		UsagePercent:    s.lastPercent,
		State:           StateFor(s.lastPercent),
	}
}

// SearchArchive recalls archived summaries for this session. When an
// embedding client is configured the query goes through vector similarity;
// lexical ranking is the fallback and the default.
func (s *Session) SearchArchive(ctx context.Context, query string, topK int) ([]domain.ArchiveSearchResult, error) {
	if topK <= 0 {
		topK = DefaultSearchTopK
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err == nil {
			results, err := s.archive.SearchSimilar(ctx, s.id, vec, topK)
			if err == nil {
				return results, nil
			}
			s.logger.Warn("similarity search failed, falling back to lexical", zap.Error(err))
		} else {
			s.logger.Warn("query embedding failed, falling back to lexical", zap.Error(err))
		}
	}

	return s.archive.Search(ctx, s.id, query, topK)
}

// Manager hands out sessions by id, creating them on first use. Sessions are
// in-memory; a restart starts fresh and recalls history via the archive.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg        SessionConfig
	summarizer domain.Summarizer
	archive    domain.ArchiveStore
	embedder   domain.EmbeddingClient
	identity   domain.IdentityProvider
	estimator  token.Estimator
	logger     *zap.Logger
}

func NewManager(
	cfg SessionConfig,
	summarizer domain.Summarizer,
	archive domain.ArchiveStore,
	embedder domain.EmbeddingClient,
	identity domain.IdentityProvider,
	estimator token.Estimator,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		cfg:        cfg,
		summarizer: summarizer,
		archive:    archive,
		embedder:   embedder,
		identity:   identity,
		estimator:  estimator,
		logger:     logger,
	}
}

// Session returns the session for id, creating it if needed.
func (m *Manager) Session(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := NewSession(id, m.cfg, m.summarizer, m.archive, m.embedder, m.identity, m.estimator, m.logger)
	m.sessions[id] = s
	return s
}

// Len reports how many sessions are live.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
