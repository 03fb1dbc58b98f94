package llm

import "github.com/mnemo-labs/mnemo/internal/domain"

// summarizeFullPrompt asks for the complete structured summary. Every list
// must be ordered most critical first: downstream renderings keep only the
// head of each list as the summary ages.
const summarizeFullPrompt = `Summarize the following conversation transcript.

Respond with ONLY a JSON object, no markdown fences, with these fields:
{
  "full_text": "a thorough prose summary of the whole conversation",
  "opening": "one sentence describing how the conversation started",
  "key_points": ["the most important facts or topics, most critical first"],
  "key_exchanges": ["verbatim quotes of pivotal exchanges, most critical first"],
  "progress": ["concrete progress made, most critical first"],
  "insights": ["non-obvious conclusions reached, most critical first"],
  "open_threads": ["unresolved questions or pending work, most critical first"],
  "decisions": ["decisions that were made, most critical first"],
  "importance": 0.5
}

Order every list most critical first. importance is 0.0-1.0 for how much this
conversation matters to future ones. Omit nothing that a future conversation
would need.

Transcript:
%s`

// summarizeCompressedPrompt trades completeness for brevity.
const summarizeCompressedPrompt = `Summarize the following conversation transcript briefly.

Respond with ONLY a JSON object, no markdown fences, with these fields:
{
  "full_text": "a short prose summary",
  "opening": "one sentence describing how the conversation started",
  "key_points": ["at most five key facts, most critical first"],
  "open_threads": ["unresolved questions, most critical first"],
  "decisions": ["decisions made, most critical first"],
  "importance": 0.5
}

Order every list most critical first.

Transcript:
%s`

// summarizeMinimalPrompt keeps only what must never be forgotten.
const summarizeMinimalPrompt = `Distill the following conversation transcript to its essentials.

Respond with ONLY a JSON object, no markdown fences, with these fields:
{
  "full_text": "one or two sentences",
  "key_points": ["at most three facts, most critical first"],
  "open_threads": ["at most one unresolved question"],
  "decisions": ["at most one decision"],
  "importance": 0.5
}

Transcript:
%s`

func promptFor(detail domain.DetailTier) string {
	switch detail {
	case domain.DetailCompressed:
		return summarizeCompressedPrompt
	case domain.DetailMinimal:
		return summarizeMinimalPrompt
	default:
		return summarizeFullPrompt
	}
}
