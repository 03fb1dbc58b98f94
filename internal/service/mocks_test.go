package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mnemo-labs/mnemo/internal/domain"
)

// mockSummarizer returns canned fields and records every call.
type mockSummarizer struct {
	mu      sync.Mutex
	calls   int
	inputs  []string
	details []domain.DetailTier

	fields *domain.SummaryFields
	err    error
}

func (m *mockSummarizer) Summarize(ctx context.Context, text string, detail domain.DetailTier) (*domain.SummaryFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.inputs = append(m.inputs, text)
	m.details = append(m.details, detail)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.fields != nil {
		f := *m.fields
		return &f, nil
	}
	return &domain.SummaryFields{
		FullText:    fmt.Sprintf("summary of %d chars", len(text)),
		Opening:     "they discussed the project",
		KeyPoints:   []string{"point one", "point two"},
		OpenThreads: []string{"pending decision"},
		Decisions:   []string{"chose option A"},
	}, nil
}

func (m *mockSummarizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockSummarizer) detailAt(i int) domain.DetailTier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.details[i]
}

// mockArchive keys records by content fingerprint, mirroring the durable
// store's dedup: persisting the same content twice leaves one record.
type mockArchive struct {
	mu      sync.Mutex
	records map[string]*domain.ArchivedSummary

	persistErr error
	searchErr  error
}

func newMockArchive() *mockArchive {
	return &mockArchive{records: make(map[string]*domain.ArchivedSummary)}
}

func (m *mockArchive) Persist(ctx context.Context, s *domain.ArchivedSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.persistErr != nil {
		return m.persistErr
	}
	if s.Fingerprint == "" {
		sum := sha256.Sum256([]byte(s.SessionID + "\x00" + s.FullText))
		s.Fingerprint = hex.EncodeToString(sum[:])
	}
	rec := *s
	m.records[s.Fingerprint] = &rec
	return nil
}

func (m *mockArchive) Search(ctx context.Context, sessionID, query string, topK int) ([]domain.ArchiveSearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []domain.ArchiveSearchResult
	for _, rec := range m.records {
		if rec.SessionID != sessionID {
			continue
		}
		if strings.Contains(rec.FullText, query) {
			out = append(out, domain.ArchiveSearchResult{Summary: *rec, Score: 1})
		}
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (m *mockArchive) SearchSimilar(ctx context.Context, sessionID string, embedding []float32, topK int) ([]domain.ArchiveSearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []domain.ArchiveSearchResult
	for _, rec := range m.records {
		if rec.SessionID == sessionID && rec.Embedding != nil {
			out = append(out, domain.ArchiveSearchResult{Summary: *rec, Score: 0.9})
		}
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (m *mockArchive) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockEmbedder returns a fixed-size vector derived from input length.
type mockEmbedder struct {
	calls int
	err   error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []float32{float32(len(text)), 0.5, 0.25}, nil
}

// mockIdentity serves fixed identity text.
type mockIdentity struct {
	text string
	err  error
}

func (m *mockIdentity) IdentityText(ctx context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

var errSummarizerDown = errors.New("summarizer unavailable")

func archivedRecord(sessionID, fullText string) *domain.ArchivedSummary {
	return &domain.ArchivedSummary{
		ID:        uuid.New(),
		SessionID: sessionID,
		FullText:  fullText,
	}
}
