// Package codegen runs the generation stages that turn a Specification into
// backend and UI source artifacts.
package codegen

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"botforge/internal/apperr"
	"botforge/internal/logging"
	"botforge/internal/metrics"
	"botforge/internal/requirements"
	"botforge/internal/synthesis"
)

// ArtifactKind is the layer an artifact belongs to
type ArtifactKind string

const (
	KindBackend ArtifactKind = "backend"
	KindUI      ArtifactKind = "ui"
)

// CodeArtifact is the output of a generation stage
type CodeArtifact struct {
	Kind       ArtifactKind `json:"language"`
	Text       string       `json:"text"`
	IsComplete bool         `json:"is_complete"`
	Attempt    int          `json:"attempt"`
	// Error holds the last synthesis error when every attempt failed; Text
	// then carries an explanatory message instead of code.
	Error string `json:"error,omitempty"`
}

// Empty reports whether the artifact carries no usable text
func (a *CodeArtifact) Empty() bool {
	return a == nil || a.Text == "" || a.Error != ""
}

// DefaultSchedule is the (temperature, output budget) escalation, most
// conservative first.
var DefaultSchedule = []synthesis.Params{
	{Temperature: 0.1, MaxTokens: 2000},
	{Temperature: 0.2, MaxTokens: 2500},
	{Temperature: 0.05, MaxTokens: 3000},
}

// Stage generates one kind of artifact with bounded retries
type Stage struct {
	kind      ArtifactKind
	client    synthesis.Client
	schedule  []synthesis.Params
	predicate Predicate
}

// Option configures a Stage
type Option func(*Stage)

// WithSchedule overrides the attempt schedule
func WithSchedule(schedule []synthesis.Params) Option {
	return func(s *Stage) {
		if len(schedule) > 0 {
			s.schedule = schedule
		}
	}
}

// WithPredicate overrides the completeness predicate
func WithPredicate(p Predicate) Option {
	return func(s *Stage) { s.predicate = p }
}

// NewStage creates a generation stage for kind
func NewStage(kind ArtifactKind, client synthesis.Client, opts ...Option) *Stage {
	s := &Stage{
		kind:      kind,
		client:    client,
		schedule:  DefaultSchedule,
		predicate: PredicateFor(kind),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the artifact kind this stage produces
func (s *Stage) Kind() ArtifactKind { return s.kind }

// Generate runs up to len(schedule) attempts and stops at the first complete
// artifact. The last attempt's artifact is returned even when incomplete.
// When every attempt fails to reach the service the artifact text explains
// the failure and the error is SynthesisUnavailable. A fired deadline stops
// the loop at once with a Timeout error.
func (s *Stage) Generate(ctx context.Context, spec requirements.Specification) (*CodeArtifact, error) {
	op := "codegen." + string(s.kind)
	log := logging.L().With(zap.String("stage", string(s.kind)), zap.String("archetype", string(spec.Archetype)))
	m := metrics.Get()

	prompt := BuildPrompt(s.kind, spec)
	var lastErr error
	var last *CodeArtifact

	for i, params := range s.schedule {
		attempt := i + 1
		log.Info("generation attempt",
			zap.Int("attempt", attempt),
			zap.Int("of", len(s.schedule)),
			zap.Float32("temperature", params.Temperature),
			zap.Int("max_tokens", params.MaxTokens))

		resp, err := s.client.Complete(ctx, &synthesis.Request{Prompt: prompt, Params: params})
		if err != nil {
			lastErr = err
			m.RecordGenerationAttempt(string(s.kind), "error")
			log.Warn("generation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if isDeadline(ctx, err) {
				return s.failed(attempt, err), apperr.New(apperr.Timeout, op, err)
			}
			continue
		}

		code := ExtractCode(resp.Text)
		artifact := &CodeArtifact{
			Kind:       s.kind,
			Text:       code,
			IsComplete: s.predicate.Complete(code),
			Attempt:    attempt,
		}
		if artifact.IsComplete {
			m.RecordGenerationAttempt(string(s.kind), "complete")
			log.Info("generation complete", zap.Int("attempt", attempt), zap.Int("length", len(code)))
			return artifact, nil
		}

		m.RecordGenerationAttempt(string(s.kind), "incomplete")
		log.Warn("generated code looks incomplete",
			zap.Int("attempt", attempt),
			zap.Int("length", len(code)),
			zap.Int("matches", s.predicate.Matches(code)))
		last = artifact
	}

	// The last attempt decides the outcome: a response, even an incomplete one,
	// beats an earlier error.
	attempts := len(s.schedule)
	if last != nil && last.Attempt == attempts {
		return last, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no attempts configured")
	}
	return s.failed(attempts, lastErr), apperr.New(apperr.SynthesisUnavailable, op, lastErr)
}

func (s *Stage) failed(attempt int, err error) *CodeArtifact {
	label := "code"
	if s.kind == KindUI {
		label = "UI code"
	}
	return &CodeArtifact{
		Kind:    s.kind,
		Text:    fmt.Sprintf("Failed to generate %s: %v", label, err),
		Attempt: attempt,
		Error:   err.Error(),
	}
}

func isDeadline(ctx context.Context, err error) bool {
	return ctx.Err() != nil || apperr.KindOf(err) == apperr.Timeout
}
