package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/qaenablers/qautils/pkg/logger"
)

// DefaultMaxLength bounds the number of characters or elements a single
// length placeholder may generate.
const DefaultMaxLength = 1 << 20

var (
	ErrPrepareFailed        = errors.New("fixture data could not be prepared")
	ErrMalformedPlaceholder = errors.New("malformed length placeholder")
	ErrUnknownSeed          = errors.New("unknown seed kind")
	ErrInvalidLength        = errors.New("invalid placeholder length")
)

// Step names a stage of the preparation pipeline.
type Step string

const (
	StepFixedLength   Step = "generate_fixed_length_params"
	StepRemoveMissing Step = "remove_missing_params"
	StepInferTypes    Step = "infer_datatypes"
)

// StepError reports a stage that stopped early. The record returned with it
// holds the work done before the failure.
type StepError struct {
	Step  Step
	Field string
	Err   error
}

func newStepError(step Step, field string, err error) *StepError {
	return &StepError{Step: step, Field: field, Err: err}
}

func (e *StepError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: field %q: %v", e.Step, e.Field, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Status classifies the outcome of Normalize.
type Status int

const (
	StatusComplete Status = iota
	StatusPartial
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of Normalize. Errors lists the steps that returned
// partial work; Record is Null when Status is StatusFailed.
type Result struct {
	Record Value
	Status Status
	Errors []error
}

// Err joins the collected errors.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxLength overrides DefaultMaxLength. Zero or less disables the limit.
func WithMaxLength(n int) Option {
	return func(nz *Normalizer) {
		nz.maxLength = n
	}
}

// Normalizer prepares fixture records. It holds no mutable state and may be
// shared between goroutines.
type Normalizer struct {
	maxLength int
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{maxLength: DefaultMaxLength}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = New()

// Prepare runs Prepare on a default Normalizer.
func Prepare(ctx context.Context, rec Value) (Value, error) {
	return defaultNormalizer.Prepare(ctx, rec)
}

// Prepare expands length placeholders, removes missing params and infers
// types, in that order. Any step failure discards the record: the result is
// Null and the error wraps ErrPrepareFailed.
func (n *Normalizer) Prepare(ctx context.Context, rec Value) (Value, error) {
	res := n.Normalize(ctx, rec)
	if res.Status != StatusComplete {
		return Null(), fmt.Errorf("%w: %w", ErrPrepareFailed, res.Err())
	}
	return res.Record, nil
}

// Normalize runs the pipeline leniently. Each step receives the output of
// the previous one even when it stopped early, and the result says whether
// everything succeeded.
func (n *Normalizer) Normalize(ctx context.Context, rec Value) (res Result) {
	log := logger.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Fixture normalization panicked", "panic", r)
			res = Result{
				Record: Null(),
				Status: StatusFailed,
				Errors: append(res.Errors, fmt.Errorf("normalization panicked: %v", r)),
			}
		}
	}()
	steps := []struct {
		step Step
		run  func(Value) (Value, error)
	}{
		{StepFixedLength, n.GenerateFixedLengthParams},
		{StepRemoveMissing, n.RemoveMissingParams},
		{StepInferTypes, n.inferShaped(rec.Kind())},
	}
	current := rec
	for _, s := range steps {
		next, err := s.run(current)
		if err != nil {
			log.Debug("Fixture step returned partial data", "step", s.step, "error", err)
			res.Errors = append(res.Errors, err)
		}
		current = next
	}
	res.Record = current
	if len(res.Errors) > 0 {
		res.Status = StatusPartial
	}
	return res
}
