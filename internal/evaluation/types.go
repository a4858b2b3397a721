package evaluation

import (
	"contribledger/internal/errs"
	"contribledger/internal/ledger"
	"contribledger/internal/models"
	"contribledger/internal/overlap"

	sdkmath "cosmossdk.io/math"
)

type Config struct {
	MinCoherence  int64
	MinDensity    int64
	MaxRedundancy int64
	// ContextEntries caps the archive entries sent to the scorer.
	ContextEntries int
	SnippetRunes   int
}

func DefaultConfig() Config {
	return Config{
		MinCoherence:   5000,
		MinDensity:     4000,
		MaxRedundancy:  8000,
		ContextEntries: 8,
		SnippetRunes:   280,
	}
}

type Scores struct {
	Coherence  int64             `json:"coherence"`
	Density    int64             `json:"density"`
	Redundancy int64             `json:"redundancy"`
	Composite  sdkmath.LegacyDec `json:"composite"`
	Approved   bool              `json:"approved"`
}

// Allocation is the outcome for one awarded metal. Exactly one of Record
// and Failure is set.
type Allocation struct {
	Metal   models.Metal             `json:"metal"`
	Epoch   string                   `json:"epoch,omitempty"`
	Outcome *ledger.Outcome          `json:"outcome,omitempty"`
	Record  *ledger.AllocationRecord `json:"record,omitempty"`
	Failure *errs.Error              `json:"failure,omitempty"`
}

func (a Allocation) Funded() bool {
	return a.Record != nil
}

type Result struct {
	SubmissionID string          `json:"submission_id"`
	Status       models.Status   `json:"status"`
	Qualified    bool            `json:"qualified"`
	Reason       string          `json:"reason,omitempty"`
	DuplicateOf  []string        `json:"duplicate_of,omitempty"`
	Scores       *Scores         `json:"scores,omitempty"`
	Awarded      []models.Metal  `json:"awarded,omitempty"`
	Funded       []models.Metal  `json:"funded,omitempty"`
	Allocations  []Allocation    `json:"allocations,omitempty"`
	Redundancy   *overlap.Report `json:"redundancy,omitempty"`
	Certificate  string          `json:"certificate,omitempty"`
}
