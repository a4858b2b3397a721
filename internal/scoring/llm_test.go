package scoring

import (
	"context"
	"errors"
	"testing"

	"contribledger/internal/errs"
	"contribledger/internal/providers"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	name  string
	reply string
	err   error
	calls int
}

func (s *scriptedLLM) Generate(context.Context, providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	s.calls++
	info := providers.ProviderInfo{Name: s.name, Model: s.name + "-model"}
	if s.err != nil {
		return providers.GenerateResponse{}, info, s.err
	}
	return providers.GenerateResponse{Text: s.reply}, info, nil
}

type providerList []*scriptedLLM

func (p providerList) PreferredLLMOrder() []int {
	out := make([]int, len(p))
	for i := range p {
		out[i] = i
	}
	return out
}

func (p providerList) LLMProviderByIndex(i int) (providers.LLMProvider, providers.ProviderRef) {
	return p[i], providers.ProviderRef{Raw: p[i].name, Name: p[i].name}
}

type memAudit struct {
	recs []CallRecord
}

func (m *memAudit) Record(_ context.Context, rec CallRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func TestLLMScorerFailsOverOnTransientErrors(t *testing.T) {
	first := &scriptedLLM{name: "a", err: errors.New("429 rate limited")}
	second := &scriptedLLM{name: "b", reply: `{"coherence":9000,"density":8000,"redundancy":100,"metals":["copper"],"approved":true}`}
	audit := &memAudit{}
	s := NewLLMScorer(providerList{first, second}, audit, zerolog.Nop(), 1000)

	res, err := s.Score(context.Background(), Request{SubmissionID: "s1", Title: "t", Text: "body"})
	require.NoError(t, err)
	require.Equal(t, "b", res.Provider)
	require.EqualValues(t, 9000, res.Coherence)
	require.Len(t, audit.recs, 2)
	require.Equal(t, "failed", audit.recs[0].Status)
	require.Equal(t, string(providers.ErrorRate), audit.recs[0].ErrorType)
	require.Equal(t, "ok", audit.recs[1].Status)
}

func TestLLMScorerStopsOnPermanentError(t *testing.T) {
	first := &scriptedLLM{name: "a", err: errors.New("bad request")}
	second := &scriptedLLM{name: "b", reply: `{"coherence":1}`}
	s := NewLLMScorer(providerList{first, second}, nil, zerolog.Nop(), 0)

	_, err := s.Score(context.Background(), Request{SubmissionID: "s1"})
	require.ErrorIs(t, err, errs.ErrCollaboratorUnavailable)
	require.True(t, errs.Retryable(err))
	require.Zero(t, second.calls)
}

func TestLLMScorerParseFailureIsRetryable(t *testing.T) {
	s := NewLLMScorer(providerList{{name: "a", reply: "I cannot score this."}}, nil, zerolog.Nop(), 0)
	_, err := s.Score(context.Background(), Request{SubmissionID: "s1"})
	require.ErrorIs(t, err, errs.ErrParse)
	require.True(t, errs.Retryable(err))
}

func TestMockProviderScoresThroughScorer(t *testing.T) {
	mock := providers.NewMockProvider(8)
	s := NewLLMScorer(mockList{mock}, nil, zerolog.Nop(), 0)
	res, err := s.Score(context.Background(), Request{SubmissionID: "s1", RedundancySummary: "compared=2 max_similarity=0.150 exact_duplicate=0"})
	require.NoError(t, err)
	require.EqualValues(t, 1500, res.Redundancy)
	require.True(t, res.Approved)
}

type mockList []*providers.MockProvider

func (m mockList) PreferredLLMOrder() []int { return []int{0} }

func (m mockList) LLMProviderByIndex(i int) (providers.LLMProvider, providers.ProviderRef) {
	return m[i], providers.ProviderRef{Raw: "mock", Name: "mock"}
}
