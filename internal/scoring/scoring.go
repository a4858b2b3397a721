// Package scoring is the contract with the external scoring collaborator and
// an LLM-backed implementation of it.
package scoring

import (
	"context"

	"contribledger/internal/models"
)

// Scale is the fixed scale of every score.
const Scale = 10000

type ContextEntry struct {
	SubmissionID string        `json:"submission_id"`
	Title        string        `json:"title"`
	Status       models.Status `json:"status"`
	Similarity   float64       `json:"similarity"`
	Snippet      string        `json:"snippet"`
}

type Request struct {
	SubmissionID      string         `json:"submission_id"`
	Title             string         `json:"title"`
	Text              string         `json:"text"`
	Context           []ContextEntry `json:"context"`
	RedundancySummary string         `json:"redundancy_summary"`
}

type Result struct {
	Coherence     int64          `json:"coherence"`
	Density       int64          `json:"density"`
	Redundancy    int64          `json:"redundancy"`
	Metals        []models.Metal `json:"metals"`
	Approved      bool           `json:"approved"`
	Justification string         `json:"justification,omitempty"`
	// Defaulted lists fields the reply omitted or mistyped and that fell
	// back to safe defaults.
	Defaulted []string `json:"defaulted,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
}

// Scorer calls the scoring collaborator. Implementations return an
// errs.KindCollaboratorUnavailable error when the call fails and an
// errs.KindParse error when the reply is unusable.
type Scorer interface {
	Score(ctx context.Context, req Request) (Result, error)
}

type CallRecord struct {
	SubmissionID string
	ProviderName string
	Model        string
	Status       string
	ErrorType    string
}

// Auditor records every collaborator call.
type Auditor interface {
	Record(ctx context.Context, rec CallRecord) error
}
