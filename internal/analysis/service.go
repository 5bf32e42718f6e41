// Package analysis composes validation, summarization and answering into a
// single request pipeline shared by every transport.
package analysis

import (
	"context"
	"math"
	"time"

	"github.com/vinodismyname/excelask/internal/answer"
	"github.com/vinodismyname/excelask/internal/intake"
	"github.com/vinodismyname/excelask/internal/workbooks"
	"github.com/vinodismyname/excelask/pkg/apierr"
)

// Validator checks a raw form and yields a request-scoped upload.
type Validator interface {
	Validate(f intake.Form) (*intake.Upload, error)
}

// Summarizer reduces an upload to a digest.
type Summarizer interface {
	Summarize(ctx context.Context, up *intake.Upload) (*workbooks.Digest, error)
}

// Answerer asks the completion service about a digest.
type Answerer interface {
	Ask(ctx context.Context, d *workbooks.Digest, question string) (*answer.Answer, error)
	ModelName() string
}

// Telemetry receives run lifecycle events.
type Telemetry interface {
	OnRunStart(ctx context.Context, op, filename string)
	OnRunEnd(ctx context.Context, op string, duration time.Duration, err error)
}

// Result is the outcome of one successful Analyze call.
type Result struct {
	Answer            string
	ProcessingSeconds float64
	TokensUsed        *int
	Model             string
	Digest            *workbooks.Digest
	Timestamp         time.Time
}

// Service runs the pipeline. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	validator  Validator
	summarizer Summarizer
	answerer   Answerer
	telemetry  Telemetry
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTelemetry registers lifecycle hooks.
func WithTelemetry(t Telemetry) Option {
	return func(s *Service) { s.telemetry = t }
}

// New wires the pipeline stages.
func New(v Validator, sum Summarizer, a Answerer, opts ...Option) *Service {
	s := &Service{
		validator:  v,
		summarizer: sum,
		answerer:   a,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Analyze validates the form, summarizes the workbook and asks the question.
// Every returned error is an *apierr.Error.
func (s *Service) Analyze(ctx context.Context, f intake.Form) (res *Result, err error) {
	start := s.now()
	s.start(ctx, "analyze", f.Filename)
	defer func() { s.end(ctx, "analyze", start, err) }()

	up, err := s.validator.Validate(f)
	if err != nil {
		return nil, classify(err)
	}
	d, err := s.summarizer.Summarize(ctx, up)
	if err != nil {
		return nil, classify(err)
	}
	ans, err := s.answerer.Ask(ctx, d, up.Question)
	if err != nil {
		return nil, classify(err)
	}

	end := s.now()
	model := ans.Model
	if model == "" {
		model = s.answerer.ModelName()
	}
	return &Result{
		Answer:            ans.Text,
		ProcessingSeconds: roundSeconds(end.Sub(start)),
		TokensUsed:        ans.TokensUsed,
		Model:             model,
		Digest:            d,
		Timestamp:         end,
	}, nil
}

// Describe validates the form and returns the digest without contacting the
// completion service.
func (s *Service) Describe(ctx context.Context, f intake.Form) (d *workbooks.Digest, err error) {
	start := s.now()
	s.start(ctx, "describe", f.Filename)
	defer func() { s.end(ctx, "describe", start, err) }()

	up, err := s.validator.Validate(f)
	if err != nil {
		return nil, classify(err)
	}
	d, err = s.summarizer.Summarize(ctx, up)
	if err != nil {
		return nil, classify(err)
	}
	return d, nil
}

func (s *Service) start(ctx context.Context, op, filename string) {
	if s.telemetry != nil {
		s.telemetry.OnRunStart(ctx, op, filename)
	}
}

func (s *Service) end(ctx context.Context, op string, start time.Time, err error) {
	if s.telemetry != nil {
		s.telemetry.OnRunEnd(ctx, op, s.now().Sub(start), err)
	}
}

// classify guarantees a structured error; anything unclassified is Internal.
func classify(err error) error {
	if _, ok := apierr.As(err); ok {
		return err
	}
	return apierr.Wrap(apierr.Internal, err)
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
