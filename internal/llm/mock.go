package llm

import (
	"context"

	"github.com/mnemo-labs/mnemo/internal/domain"
)

// MockSummarizer is a configurable summarizer for testing and offline runs.
// Set the response fields to control what Summarize returns.
type MockSummarizer struct {
	SummarizeResponse *domain.SummaryFields
	SummarizeError    error

	// Call tracking for assertions
	SummarizeCalls []struct {
		Text   string
		Detail domain.DetailTier
	}
}

func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{
		SummarizeResponse: &domain.SummaryFields{
			FullText:    "Mock summary of the conversation.",
			Opening:     "The conversation opened with a question.",
			KeyPoints:   []string{"mock key point"},
			OpenThreads: []string{"mock open thread"},
			Decisions:   []string{"mock decision"},
			Importance:  0.5,
		},
	}
}

func (c *MockSummarizer) Summarize(ctx context.Context, text string, detail domain.DetailTier) (*domain.SummaryFields, error) {
	c.SummarizeCalls = append(c.SummarizeCalls, struct {
		Text   string
		Detail domain.DetailTier
	}{Text: text, Detail: detail})

	if c.SummarizeError != nil {
		return nil, c.SummarizeError
	}
	fields := *c.SummarizeResponse
	return &fields, nil
}
