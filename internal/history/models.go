package history

import (
	"time"

	"seqflow/internal/sequence"
)

// RunRecord is the journal entry for one sequence run.
type RunRecord struct {
	ID            string             `json:"id"`
	SequenceLabel string             `json:"sequence_label"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Outcome       string             `json:"outcome"` // "completed", "terminated", "error"
	Error         string             `json:"error,omitempty"`
	Messages      []sequence.Message `json:"messages,omitempty"`
}
