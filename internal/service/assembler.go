package service

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/memory"
	"github.com/mnemo-labs/mnemo/internal/token"
)

// Budget constants
const (
	// DefaultCeiling is the hard token ceiling for an assembled payload.
	DefaultCeiling = 200_000

	// systemReserveFraction and identityReserveFraction are accounting
	// reservations only; the actual measured cost of each block is what gets
	// charged against the ceiling.
	systemReserveFraction   = 0.04
	identityReserveFraction = 0.04

	// safetyMarginFraction is withheld from the ceiling to absorb estimator
	// error. The estimator rounds up, so the margin is belt and braces.
	safetyMarginFraction = 0.05
)

var (
	// ErrConfiguration means the fixed blocks alone cannot fit the ceiling.
	// There is no runtime remedy; the deployment is misconfigured.
	ErrConfiguration = errors.New("fixed context blocks exceed token ceiling")

	// ErrBudgetViolation means an assembled payload measured over the
	// ceiling. Assembly fails closed rather than emit an oversized payload.
	ErrBudgetViolation = errors.New("assembled payload exceeds token ceiling")
)

// BudgetError carries the full usage breakdown alongside the sentinel so
// callers can log exactly which component overran.
type BudgetError struct {
	sentinel error
	Report   domain.UsageReport
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%v: %d of %d tokens (system=%d identity=%d working=%d summaries=%d)",
		e.sentinel, e.Report.TotalTokens, e.Report.Ceiling,
		e.Report.SystemTokens, e.Report.IdentityTokens,
		e.Report.WorkingMemoryTokens, e.Report.SummaryTokens)
}

func (e *BudgetError) Unwrap() error { return e.sentinel }

// AssemblerConfig tunes the per-turn budget split.
type AssemblerConfig struct {
	Ceiling       int
	SummaryBudget int
}

// Assembler builds the per-turn context payload from the fixed blocks, the
// working memory snapshot, and the tiered summaries, guaranteeing the result
// never measures over the ceiling.
type Assembler struct {
	estimator token.Estimator
	ceiling   int
	sumBudget int
	logger    *zap.Logger
}

func NewAssembler(est token.Estimator, cfg AssemblerConfig, logger *zap.Logger) *Assembler {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.SummaryBudget <= 0 {
		cfg.SummaryBudget = memory.DefaultSummaryBudget
	}
	return &Assembler{
		estimator: est,
		ceiling:   cfg.Ceiling,
		sumBudget: cfg.SummaryBudget,
		logger:    logger,
	}
}

func (a *Assembler) Ceiling() int { return a.ceiling }

// Assemble produces the ordered payload and its usage report. Block order is
// fixed: system prompt, identity, memory (summaries), conversation. Exchanges
// are charged at their measured transcript cost; if they cannot fit the space
// left after the fixed blocks and safety margin, the oldest are dropped from
// the payload (force truncation). That is a lossy last resort and is logged
// loudly; escalation should compact long before it triggers.
func (a *Assembler) Assemble(systemText, identityText string, snapshot []domain.Exchange, summaries *memory.TieredStore) (*domain.Payload, *domain.UsageReport, error) {
	sysTok := a.estimator.Estimate(systemText)
	idTok := a.estimator.Estimate(identityText)
	margin := int(float64(a.ceiling) * safetyMarginFraction)

	// Pressure is measured against the usable budget, not the raw ceiling:
	// the safety margin is never handed out, so saturation reads as 100%.
	usable := a.ceiling - margin

	report := domain.UsageReport{
		SystemTokens:   sysTok,
		IdentityTokens: idTok,
		Ceiling:        a.ceiling,
		Budget: domain.Budget{
			Ceiling:      a.ceiling,
			System:       int(float64(a.ceiling) * systemReserveFraction),
			Identity:     int(float64(a.ceiling) * identityReserveFraction),
			SafetyMargin: margin,
		},
	}

	if sysTok+idTok >= usable {
		report.TotalTokens = sysTok + idTok
		report.Percent = percentOf(report.TotalTokens, usable)
		return nil, &report, &BudgetError{sentinel: ErrConfiguration, Report: report}
	}

	available := usable - sysTok - idTok

	// Fit the conversation, newest exchanges preferred.
	kept, wmTok, truncated := fitExchanges(a.estimator, snapshot, available)
	if truncated > 0 {
		a.logger.Warn("force-truncated working memory to fit ceiling",
			zap.Int("dropped_exchanges", truncated),
			zap.Int("kept_exchanges", len(kept)),
			zap.Int("available_tokens", available))
	}
	report.WorkingMemoryTokens = wmTok
	report.TruncatedExchanges = truncated
	report.Budget.WorkingMemory = wmTok

	// Summaries get whatever remains, capped at their fixed allotment.
	allot := a.sumBudget
	if rest := available - wmTok; rest < allot {
		allot = rest
	}
	if allot < 0 {
		allot = 0
	}
	report.Budget.Summaries = allot

	var inj memory.InjectResult
	if summaries != nil {
		inj = summaries.Inject(allot)
	}
	report.SummaryTokens = inj.Tokens
	report.SummariesInjected = inj.Injected
	report.SummariesSkipped = inj.Skipped

	report.TotalTokens = sysTok + idTok + wmTok + inj.Tokens
	report.Percent = percentOf(report.TotalTokens, usable)

	if report.TotalTokens > a.ceiling {
		return nil, &report, &BudgetError{sentinel: ErrBudgetViolation, Report: report}
	}

	payload := &domain.Payload{Blocks: []domain.Block{
		{Label: "system", Text: systemText},
		{Label: "identity", Text: identityText},
		{Label: "memory", Text: inj.Text},
		{Label: "conversation", Text: renderConversation(kept)},
	}}
	return payload, &report, nil
}

// fitExchanges keeps the newest exchanges whose summed measured cost fits the
// budget, preserving chronological order in the result. Cost is measured on
// the exact chunk renderConversation emits, trailing newline included, so the
// summed charges upper-bound the estimate of the joined block.
func fitExchanges(est token.Estimator, snapshot []domain.Exchange, budget int) (kept []domain.Exchange, tokens, truncated int) {
	cut := 0
	for i := len(snapshot) - 1; i >= 0; i-- {
		cost := est.Estimate(snapshot[i].Transcript() + "\n")
		if tokens+cost > budget {
			cut = i + 1
			break
		}
		tokens += cost
	}
	return snapshot[cut:], tokens, cut
}

func renderConversation(exchanges []domain.Exchange) string {
	var sb strings.Builder
	for _, ex := range exchanges {
		sb.WriteString(ex.Transcript())
		sb.WriteString("\n")
	}
	return sb.String()
}

func percentOf(tokens, ceiling int) float64 {
	if ceiling == 0 {
		return 0
	}
	return float64(tokens) / float64(ceiling) * 100
}
