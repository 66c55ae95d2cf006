// Package translator decides whether a text block is worth translating and
// translates it, routing every backend call through the daily quota, the
// rate limiter and the retry policy.
package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"pdf-translator/internal/llm"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/quota"
	"pdf-translator/internal/rate"
	"pdf-translator/internal/retry"
)

// DefaultTargetLanguage is used when Options.TargetLanguage is empty.
const DefaultTargetLanguage = "简体中文"

// Decision is the outcome of the "should this be translated" call.
type Decision int

const (
	DecisionNo Decision = iota
	DecisionYes
	// DecisionUndetermined means the backend could not be asked (quota,
	// retries exhausted) so no answer exists.
	DecisionUndetermined
)

func (d Decision) String() string {
	switch d {
	case DecisionYes:
		return "yes"
	case DecisionNo:
		return "no"
	default:
		return "undetermined"
	}
}

// UndeterminedPolicy says what TranslateBlock does without a decision.
type UndeterminedPolicy string

const (
	UndeterminedSkip      UndeterminedPolicy = "skip"
	UndeterminedTranslate UndeterminedPolicy = "translate"
)

// Options configures a Service.
type Options struct {
	TargetLanguage string
	Retry          retry.Policy
	Undetermined   UndeterminedPolicy
}

// Stats counts backend traffic for the run summary.
type Stats struct {
	Calls         int64 // backend calls attempted
	Failures      int64 // failed attempts, retried or not
	QuotaRejected int64
}

// Service is safe for concurrent use by the dispatcher's workers. The
// limiter and quota are shared state passed in by the caller.
type Service struct {
	backend      llm.Backend
	limiter      *rate.Limiter
	quota        *quota.DailyQuota
	policy       retry.Policy
	target       string
	undetermined UndeterminedPolicy

	calls         atomic.Int64
	failures      atomic.Int64
	quotaRejected atomic.Int64
}

// New creates a Service. limiter and q may be nil to disable them.
func New(backend llm.Backend, limiter *rate.Limiter, q *quota.DailyQuota, opts Options) *Service {
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = DefaultTargetLanguage
	}
	if opts.Undetermined == "" {
		opts.Undetermined = UndeterminedSkip
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Service{
		backend:      backend,
		limiter:      limiter,
		quota:        q,
		policy:       opts.Retry,
		target:       opts.TargetLanguage,
		undetermined: opts.Undetermined,
	}
}

// TargetLanguage returns the configured target language.
func (s *Service) TargetLanguage() string { return s.target }

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Calls:         s.calls.Load(),
		Failures:      s.failures.Load(),
		QuotaRejected: s.quotaRejected.Load(),
	}
}

// ShouldTranslate asks the backend whether text is worth translating.
// On failure the decision is DecisionUndetermined and the error is returned.
func (s *Service) ShouldTranslate(ctx context.Context, text string) (Decision, error) {
	raw, err := s.call(ctx, decisionPrompt(text))
	if err != nil {
		return DecisionUndetermined, err
	}
	if ParseDecision(raw) {
		return DecisionYes, nil
	}
	return DecisionNo, nil
}

// ParseDecision maps a raw classification answer to a boolean: trimmed and
// lower-cased, only "true", "1" and "yes" count as true.
func ParseDecision(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Translate returns the backend's translation of text.
func (s *Service) Translate(ctx context.Context, text string) (string, error) {
	out, err := s.call(ctx, translatePrompt(s.target, text))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty translation", llm.ErrMalformedResponse)
	}
	return out, nil
}

// BlockResult is the per-block outcome of TranslateBlock.
type BlockResult struct {
	Decision   Decision
	Translated bool
	Text       string
	// Reason is why an untranslated block was skipped by policy
	// (quota reached, undetermined decision under the skip policy).
	Reason error
}

// TranslateBlock runs the decision call and, when it says yes (or is
// undetermined under the translate policy), the translation call.
// Declined blocks and policy skips are not errors; cancellation and failed
// translation calls are.
func (s *Service) TranslateBlock(ctx context.Context, text string) (BlockResult, error) {
	decision, err := s.ShouldTranslate(ctx, text)
	res := BlockResult{Decision: decision}

	switch decision {
	case DecisionNo:
		return res, nil
	case DecisionUndetermined:
		if ctx.Err() != nil {
			return res, err
		}
		if s.undetermined != UndeterminedTranslate {
			return s.skip(res, err), nil
		}
		logger.Debug("decision undetermined, translating anyway", logger.Err(err))
	}

	translated, err := s.Translate(ctx, text)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return s.skip(res, err), nil
		}
		return res, err
	}
	res.Translated = true
	res.Text = translated
	return res, nil
}

// skip records why a block is left untranslated. Quota rejections are
// already logged per call.
func (s *Service) skip(res BlockResult, reason error) BlockResult {
	res.Reason = reason
	if !errors.Is(reason, quota.ErrQuotaExceeded) {
		logger.Warn("decision undetermined, skipping block", logger.Err(reason))
	}
	return res
}

// call performs one logical backend call. Each attempt takes a quota unit
// and a rate-limiter slot before touching the network.
func (s *Service) call(ctx context.Context, prompt string) (string, error) {
	req := llm.Request{System: systemPrompt(s.target), Prompt: prompt}

	return retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		if err := s.quota.Allow(ctx); err != nil {
			if errors.Is(err, quota.ErrQuotaExceeded) {
				s.quotaRejected.Add(1)
				logger.Warn("daily quota reached, skipping backend call",
					logger.Int64("limit", s.quota.Limit()))
				return "", retry.Permanent(err)
			}
			return "", err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return "", retry.Permanent(err)
		}

		s.calls.Add(1)
		out, err := s.backend.Complete(ctx, req)
		if err != nil {
			s.failures.Add(1)
			logger.Debug("backend call failed", logger.String("backend", s.backend.Name()), logger.Err(err))
			return "", err
		}
		return out, nil
	})
}
