package scoring

import (
	"context"
	"errors"
	"fmt"

	"contribledger/internal/errs"
	"contribledger/internal/providers"

	"github.com/rs/zerolog"
)

// LLMProviders is the slice of the provider manager the scorer needs.
type LLMProviders interface {
	PreferredLLMOrder() []int
	LLMProviderByIndex(i int) (providers.LLMProvider, providers.ProviderRef)
}

// LLMScorer asks the configured LLM providers in preference order. A
// provider failure classified as quota, rate or transient moves on to the
// next provider; permanent and context failures stop immediately.
type LLMScorer struct {
	providers LLMProviders
	audit     Auditor
	log       zerolog.Logger
	maxRunes  int
}

func NewLLMScorer(p LLMProviders, audit Auditor, log zerolog.Logger, maxRunes int) *LLMScorer {
	return &LLMScorer{
		providers: p,
		audit:     audit,
		log:       log.With().Str("component", "scorer").Logger(),
		maxRunes:  maxRunes,
	}
}

func (s *LLMScorer) Score(ctx context.Context, req Request) (Result, error) {
	prompt := BuildPrompt(req, s.maxRunes)
	var lastErr error
	for _, idx := range s.providers.PreferredLLMOrder() {
		provider, ref := s.providers.LLMProviderByIndex(idx)
		resp, info, err := provider.Generate(ctx, providers.GenerateRequest{
			Operation:    "contribution_score",
			SubmissionID: req.SubmissionID,
			Prompt:       prompt,
			JSON:         true,
		})
		if info.Name == "" {
			info.Name = ref.Name
		}
		if err != nil {
			errType := providers.ClassifyError(err)
			s.record(ctx, req.SubmissionID, info, "failed", string(errType))
			s.log.Warn().Err(err).
				Str("submission_id", req.SubmissionID).
				Str("provider", ref.Raw).
				Str("error_type", string(errType)).
				Msg("scoring call failed")
			lastErr = fmt.Errorf("score via %s: %w", ref.Raw, err)
			if !errType.Failover() || errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		res, err := ParseReply(resp.Text)
		if err != nil {
			s.record(ctx, req.SubmissionID, info, "unparseable", "parse")
			s.log.Warn().Err(err).Str("submission_id", req.SubmissionID).Str("provider", ref.Raw).Msg("scoring reply unusable")
			return Result{}, errs.Wrap(errs.KindParse, "score", req.SubmissionID, err)
		}
		res.Provider = info.Name
		res.Model = info.Model
		s.record(ctx, req.SubmissionID, info, "ok", "")
		if len(res.Defaulted) > 0 {
			s.log.Info().Str("submission_id", req.SubmissionID).Strs("defaulted", res.Defaulted).Msg("scoring reply was partial")
		}
		return res, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no llm providers configured")
	}
	return Result{}, errs.Wrap(errs.KindCollaboratorUnavailable, "score", req.SubmissionID, lastErr)
}

func (s *LLMScorer) record(ctx context.Context, id string, info providers.ProviderInfo, status, errType string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, CallRecord{
		SubmissionID: id,
		ProviderName: info.Name,
		Model:        info.Model,
		Status:       status,
		ErrorType:    errType,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("submission_id", id).Msg("scoring audit write failed")
	}
}
