package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusEvaluating  Status = "EVALUATING"
	StatusQualified   Status = "QUALIFIED"
	StatusUnqualified Status = "UNQUALIFIED"
)

var transitions = map[Status][]Status{
	StatusDraft:      {StatusSubmitted},
	StatusSubmitted:  {StatusEvaluating},
	StatusEvaluating: {StatusQualified, StatusUnqualified},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusDraft, StatusSubmitted, StatusEvaluating, StatusQualified, StatusUnqualified:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// CanTransition reports whether next is directly reachable from s.
func (s Status) CanTransition(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusQualified || s == StatusUnqualified
}

// Metal is an award category. A contribution may hold several.
type Metal string

const (
	MetalGold   Metal = "gold"
	MetalSilver Metal = "silver"
	MetalCopper Metal = "copper"
)

var AllMetals = []Metal{MetalGold, MetalSilver, MetalCopper}

func ParseMetal(s string) (Metal, error) {
	m := Metal(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MetalGold, MetalSilver, MetalCopper:
		return m, nil
	default:
		return "", fmt.Errorf("unknown metal %q", s)
	}
}

func (m *Metal) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMetal(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

type Transition struct {
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

type Contribution struct {
	SubmissionID string         `json:"submission_id"`
	Sequence     int64          `json:"sequence"`
	Title        string         `json:"title"`
	Contributor  string         `json:"contributor"`
	Category     string         `json:"category,omitempty"`
	Text         string         `json:"text"`
	Fingerprint  string         `json:"fingerprint"`
	Metals       []Metal        `json:"metals"`
	Metadata     map[string]any `json:"metadata"`
	Status       Status         `json:"status"`
	History      []Transition   `json:"history"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (c Contribution) HasMetal(m Metal) bool {
	for _, x := range c.Metals {
		if x == m {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share maps or slices with the
// archive's authoritative record.
func (c Contribution) Clone() Contribution {
	out := c
	out.Metals = append([]Metal(nil), c.Metals...)
	out.History = append([]Transition(nil), c.History...)
	out.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}
