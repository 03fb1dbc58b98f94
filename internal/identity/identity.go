package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mnemo-labs/mnemo/internal/token"
)

// DefaultMaxTokens bounds the identity block so a runaway profile file can
// never crowd out the conversation.
const DefaultMaxTokens = 8_000

// FileProvider reads the identity/profile text from a file on every call, so
// edits take effect on the next turn without a restart. A missing file means
// no identity, not an error.
type FileProvider struct {
	path      string
	maxTokens int
	estimator token.Estimator
}

func NewFileProvider(path string, maxTokens int, est token.Estimator) *FileProvider {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &FileProvider{
		path:      path,
		maxTokens: maxTokens,
		estimator: est,
	}
}

func (p *FileProvider) IdentityText(ctx context.Context) (string, error) {
	if p.path == "" {
		return "", nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read identity file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	return p.truncate(text), nil
}

// truncate clips the text to the token bound at a rune boundary. The
// estimator is char-based, so the bound converts to a byte budget directly.
func (p *FileProvider) truncate(text string) string {
	if p.estimator.Estimate(text) <= p.maxTokens {
		return text
	}

	limit := p.maxTokens * 4
	if limit >= len(text) {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// StaticProvider serves fixed identity text, for tests and embedded use.
type StaticProvider struct {
	Text string
}

func (p *StaticProvider) IdentityText(ctx context.Context) (string, error) {
	return p.Text, nil
}
