package domain

// Budget is the ephemeral per-turn view of how the ceiling is carved into
// named reservations. It is recomputed every turn and never persisted.
type Budget struct {
	Ceiling       int `json:"ceiling"`
	System        int `json:"system"`
	Identity      int `json:"identity"`
	WorkingMemory int `json:"working_memory"`
	Summaries     int `json:"summaries"`
	SafetyMargin  int `json:"safety_margin"`
}

// Block is one labeled section of the assembled payload.
type Block struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Payload is the ordered list of labeled text blocks handed to the model
// client. Its total estimated size never exceeds the ceiling.
type Payload struct {
	Blocks []Block `json:"blocks"`
}

// UsageReport is the per-component token accounting for one assembly. It is
// the sole input to the escalation controller.
type UsageReport struct {
	SystemTokens        int     `json:"system_tokens"`
	IdentityTokens      int     `json:"identity_tokens"`
	WorkingMemoryTokens int     `json:"working_memory_tokens"`
	SummaryTokens       int     `json:"summary_tokens"`
	TotalTokens         int     `json:"total_tokens"`
	Ceiling             int     `json:"ceiling"`
	Percent             float64 `json:"percent"`

	SummariesInjected  int `json:"summaries_injected"`
	SummariesSkipped   int `json:"summaries_skipped"`
	TruncatedExchanges int `json:"truncated_exchanges"`

	Budget Budget `json:"budget"`
}
