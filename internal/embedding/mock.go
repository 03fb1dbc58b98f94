package embedding

import (
	"context"
	"crypto/sha256"
)

const mockDimensions = 1536

// MockClient produces a deterministic vector derived from the input text, so
// identical text always embeds identically.
type MockClient struct {
	EmbedError error

	// Call tracking for assertions
	EmbedCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.EmbedError != nil {
		return nil, c.EmbedError
	}

	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, mockDimensions)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)])/255 - 0.5
	}
	return vec, nil
}
