// Package overlap compares a candidate contribution against the whole
// archive and classifies each pair into a redundancy band. It also derives
// the similarity graph used for visualization.
package overlap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"contribledger/internal/models"
)

type Band string

const (
	BandExactDuplicate Band = "exact_duplicate"
	BandHighOverlap    Band = "high_overlap"
	BandModerate       Band = "moderate_overlap"
	BandRelated        Band = "related"
	BandUnrelated      Band = "unrelated"
)

// AllBands is ordered from most to least similar.
var AllBands = []Band{BandExactDuplicate, BandHighOverlap, BandModerate, BandRelated, BandUnrelated}

// Bands are the lower similarity bounds of each band. Anything below
// Related is unrelated.
type Bands struct {
	Exact    float64 `json:"exact"`
	High     float64 `json:"high"`
	Moderate float64 `json:"moderate"`
	Related  float64 `json:"related"`
}

func DefaultBands() Bands {
	return Bands{Exact: 0.95, High: 0.8, Moderate: 0.5, Related: 0.2}
}

func (b Bands) Validate() error {
	if !(b.Exact <= 1 && b.Exact > b.High && b.High > b.Moderate && b.Moderate > b.Related && b.Related > 0) {
		return fmt.Errorf("overlap bands must be strictly decreasing within (0,1]: %+v", b)
	}
	return nil
}

func (b Bands) Classify(sim float64) Band {
	switch {
	case sim >= b.Exact:
		return BandExactDuplicate
	case sim >= b.High:
		return BandHighOverlap
	case sim >= b.Moderate:
		return BandModerate
	case sim >= b.Related:
		return BandRelated
	default:
		return BandUnrelated
	}
}

type Entry struct {
	SubmissionID string  `json:"submission_id"`
	Similarity   float64 `json:"similarity"`
	Band         Band    `json:"band"`
}

type Report struct {
	SubmissionID  string       `json:"submission_id"`
	Metric        string       `json:"metric"`
	Compared      int          `json:"compared"`
	Entries       []Entry      `json:"entries"`
	Counts        map[Band]int `json:"counts"`
	MaxSimilarity float64      `json:"max_similarity"`
}

// Top returns up to n entries above the unrelated band.
func (r Report) Top(n int) []Entry {
	out := make([]Entry, 0, n)
	for _, e := range r.Entries {
		if len(out) == n || e.Band == BandUnrelated {
			break
		}
		out = append(out, e)
	}
	return out
}

// Summary renders the band counts in a compact, stable form for prompts and
// metadata.
func (r Report) Summary() string {
	parts := make([]string, 0, len(AllBands))
	for _, b := range AllBands {
		parts = append(parts, fmt.Sprintf("%s=%d", b, r.Counts[b]))
	}
	return fmt.Sprintf("compared=%d max_similarity=%.3f %s", r.Compared, r.MaxSimilarity, strings.Join(parts, " "))
}

type Analyzer struct {
	sim   Similarity
	bands Bands
}

func NewAnalyzer(sim Similarity, bands Bands) (*Analyzer, error) {
	if sim == nil {
		sim = TermCosine{}
	}
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{sim: sim, bands: bands}, nil
}

func (a *Analyzer) Bands() Bands {
	return a.bands
}

// RedundancyReport scores the candidate against every contribution in the
// snapshot except itself. Entries are sorted by descending similarity.
func (a *Analyzer) RedundancyReport(ctx context.Context, candidate models.Contribution, snapshot []models.Contribution) (Report, error) {
	others := make([]models.Contribution, 0, len(snapshot))
	for _, c := range snapshot {
		if c.SubmissionID != candidate.SubmissionID {
			others = append(others, c)
		}
	}
	rep := Report{
		SubmissionID: candidate.SubmissionID,
		Metric:       a.sim.Name(),
		Compared:     len(others),
		Entries:      make([]Entry, 0, len(others)),
		Counts:       make(map[Band]int, len(AllBands)),
	}
	for _, b := range AllBands {
		rep.Counts[b] = 0
	}
	if len(others) == 0 {
		return rep, nil
	}
	scores, err := a.sim.Scores(ctx, candidate, others)
	if err != nil {
		return Report{}, fmt.Errorf("redundancy report %s: %w", candidate.SubmissionID, err)
	}
	for i, o := range others {
		band := a.bands.Classify(scores[i])
		rep.Entries = append(rep.Entries, Entry{SubmissionID: o.SubmissionID, Similarity: scores[i], Band: band})
		rep.Counts[band]++
		if scores[i] > rep.MaxSimilarity {
			rep.MaxSimilarity = scores[i]
		}
	}
	sort.SliceStable(rep.Entries, func(i, j int) bool {
		return rep.Entries[i].Similarity > rep.Entries[j].Similarity
	})
	return rep, nil
}
