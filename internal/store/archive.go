package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnemo-labs/mnemo/internal/domain"
)

type ArchiveStore struct {
	db *pgxpool.Pool
}

func NewArchiveStore(db *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// Fingerprint derives the content hash used for dedup: same session, same
// full text, same record.
func Fingerprint(sessionID, fullText string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + fullText))
	return hex.EncodeToString(sum[:])
}

// Persist writes an archived summary. Writes are idempotent on content: a
// retry after a lost acknowledgment updates the existing row instead of
// inserting a duplicate.
func (s *ArchiveStore) Persist(ctx context.Context, a *domain.ArchivedSummary) error {
	if a.Fingerprint == "" {
		a.Fingerprint = Fingerprint(a.SessionID, a.FullText)
	}

	var embedding *pgvector.Vector
	if len(a.Embedding) > 0 {
		v := pgvector.NewVector(a.Embedding)
		embedding = &v
	}

	return s.db.QueryRow(ctx,
		`INSERT INTO archived_summaries (id, session_id, started_at, ended_at, exchange_count, full_text, key_points, importance, fingerprint, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (fingerprint) DO UPDATE SET fingerprint = EXCLUDED.fingerprint
		 RETURNING id, created_at`,
		a.ID, a.SessionID, a.StartedAt, a.EndedAt, a.ExchangeCount, a.FullText, a.KeyPoints, a.Importance, a.Fingerprint, embedding,
	).Scan(&a.ID, &a.CreatedAt)
}

// Search ranks archived summaries lexically against the query. Ranking is
// deterministic: ts_rank_cd score descending, then created_at descending so
// equally relevant summaries tie-break toward recency.
func (s *ArchiveStore) Search(ctx context.Context, sessionID, query string, topK int) ([]domain.ArchiveSearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, started_at, ended_at, exchange_count, full_text, key_points, importance, fingerprint, created_at,
		        ts_rank_cd(to_tsvector('english', full_text), plainto_tsquery('english', $2)) AS score
		 FROM archived_summaries
		 WHERE session_id = $1
		   AND to_tsvector('english', full_text) @@ plainto_tsquery('english', $2)
		 ORDER BY score DESC, created_at DESC
		 LIMIT $3`,
		sessionID, query, topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanResults(rows)
}

// SearchSimilar ranks by cosine similarity over the stored embeddings.
func (s *ArchiveStore) SearchSimilar(ctx context.Context, sessionID string, embedding []float32, topK int) ([]domain.ArchiveSearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, started_at, ended_at, exchange_count, full_text, key_points, importance, fingerprint, created_at,
		        1 - (embedding <=> $2) AS score
		 FROM archived_summaries
		 WHERE session_id = $1 AND embedding IS NOT NULL
		 ORDER BY score DESC, created_at DESC
		 LIMIT $3`,
		sessionID, vec, topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanResults(rows)
}

func scanResults(rows pgx.Rows) ([]domain.ArchiveSearchResult, error) {
	var out []domain.ArchiveSearchResult
	for rows.Next() {
		var r domain.ArchiveSearchResult
		if err := rows.Scan(
			&r.Summary.ID, &r.Summary.SessionID, &r.Summary.StartedAt, &r.Summary.EndedAt,
			&r.Summary.ExchangeCount, &r.Summary.FullText, &r.Summary.KeyPoints,
			&r.Summary.Importance, &r.Summary.Fingerprint, &r.Summary.CreatedAt, &r.Score,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
