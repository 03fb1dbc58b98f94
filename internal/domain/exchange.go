package domain

import (
	"fmt"
	"time"
)

// Exchange is one user turn plus the agent's reply. Exchanges are immutable
// once created and owned by the working buffer until evicted. Ordinals are
// strictly increasing and gap-free within a session.
type Exchange struct {
	Ordinal   int       `json:"ordinal"`
	UserText  string    `json:"user_text"`
	AgentText string    `json:"agent_text"`
	CreatedAt time.Time `json:"created_at"`
	Tokens    int       `json:"tokens"`
}

// Transcript renders the exchange as the two labeled turns injected into the
// assembled context.
func (e Exchange) Transcript() string {
	return fmt.Sprintf("User: %s\nAssistant: %s", e.UserText, e.AgentText)
}
