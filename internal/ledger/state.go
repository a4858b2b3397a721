package ledger

import (
	"time"

	"contribledger/internal/models"

	sdkmath "cosmossdk.io/math"
)

type EpochState struct {
	Name           string         `json:"name"`
	InitialBalance sdkmath.Int    `json:"initial_balance"`
	Balance        sdkmath.Int    `json:"balance"`
	Committed      sdkmath.Int    `json:"committed"`
	Halved         sdkmath.Int    `json:"halved"`
	Threshold      int64          `json:"threshold"`
	Eligible       []models.Metal `json:"eligible"`
	// Halving fields are only meaningful on the distinguished epoch.
	HalvingInterval int64 `json:"halving_interval,omitempty"`
	HalvingCount    int64 `json:"halving_count,omitempty"`
}

func (e EpochState) eligible(m models.Metal) bool {
	for _, x := range e.Eligible {
		if x == m {
			return true
		}
	}
	return false
}

type AllocationRecord struct {
	Sequence      int64             `json:"sequence"`
	SubmissionID  string            `json:"submission_id"`
	Contributor   string            `json:"contributor"`
	Metal         models.Metal      `json:"metal"`
	Epoch         string            `json:"epoch"`
	Score         sdkmath.LegacyDec `json:"score"`
	Multiplier    int64             `json:"multiplier"`
	Reward        sdkmath.Int       `json:"reward"`
	BalanceBefore sdkmath.Int       `json:"balance_before"`
	BalanceAfter  sdkmath.Int       `json:"balance_after"`
	Timestamp     time.Time         `json:"timestamp"`
}

// State is the durable ledger. Epochs keep configuration order.
type State struct {
	Epochs              []EpochState           `json:"epochs"`
	TotalDensity        int64                  `json:"total_density"`
	Allocations         []AllocationRecord     `json:"allocations"`
	AllocationCount     int64                  `json:"allocation_count"`
	ContributorBalances map[string]sdkmath.Int `json:"contributor_balances"`
	// Submissions is never trimmed; Allocations is bounded by HistoryLimit.
	Submissions map[string]SubmissionEntry `json:"submissions"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// SubmissionEntry holds what the ledger committed for one submission: at
// most one record per metal, and whether its density has been counted.
type SubmissionEntry struct {
	Records         []AllocationRecord `json:"records"`
	DensityRecorded bool               `json:"density_recorded,omitempty"`
}

func newState(cfg Config, now time.Time) State {
	st := State{
		Epochs:              make([]EpochState, 0, len(cfg.Epochs)),
		Allocations:         []AllocationRecord{},
		ContributorBalances: map[string]sdkmath.Int{},
		Submissions:         map[string]SubmissionEntry{},
		UpdatedAt:           now,
	}
	for _, e := range cfg.Epochs {
		st.Epochs = append(st.Epochs, EpochState{
			Name:            e.Name,
			InitialBalance:  e.InitialBalance,
			Balance:         e.InitialBalance,
			Committed:       sdkmath.ZeroInt(),
			Halved:          sdkmath.ZeroInt(),
			Threshold:       e.Threshold,
			Eligible:        append([]models.Metal(nil), e.Eligible...),
			HalvingInterval: e.HalvingInterval,
		})
	}
	return st
}

func (s *State) epoch(name string) (*EpochState, bool) {
	for i := range s.Epochs {
		if s.Epochs[i].Name == name {
			return &s.Epochs[i], true
		}
	}
	return nil, false
}

func (s *State) halvingEpoch() (*EpochState, bool) {
	for i := range s.Epochs {
		if s.Epochs[i].HalvingInterval > 0 {
			return &s.Epochs[i], true
		}
	}
	return nil, false
}

// Clone deep-copies the state. sdkmath values are immutable, so copying the
// value is enough for them.
func (s State) Clone() State {
	out := s
	out.Epochs = make([]EpochState, len(s.Epochs))
	for i, e := range s.Epochs {
		e.Eligible = append([]models.Metal(nil), e.Eligible...)
		out.Epochs[i] = e
	}
	out.Allocations = append([]AllocationRecord{}, s.Allocations...)
	out.ContributorBalances = make(map[string]sdkmath.Int, len(s.ContributorBalances))
	for k, v := range s.ContributorBalances {
		out.ContributorBalances[k] = v
	}
	out.Submissions = make(map[string]SubmissionEntry, len(s.Submissions))
	for k, v := range s.Submissions {
		v.Records = append([]AllocationRecord(nil), v.Records...)
		out.Submissions[k] = v
	}
	return out
}

// ensureIndex fills nil maps on states written before the submission index
// existed. Retained records are indexed; their density is taken as counted.
func (s *State) ensureIndex() {
	if s.ContributorBalances == nil {
		s.ContributorBalances = map[string]sdkmath.Int{}
	}
	if s.Submissions != nil {
		return
	}
	s.Submissions = map[string]SubmissionEntry{}
	for _, a := range s.Allocations {
		e := s.Submissions[a.SubmissionID]
		e.Records = append(e.Records, a)
		e.DensityRecorded = true
		s.Submissions[a.SubmissionID] = e
	}
}
