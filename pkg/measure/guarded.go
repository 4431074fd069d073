package measure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// ErrProviderUnavailable is returned when no verdict could be obtained from
// the wrapped provider.
var ErrProviderUnavailable = errors.New("measurement provider unavailable")

// Provider is anything that can produce a verdict for a step.
type Provider interface {
	Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error)
}

// GuardOptions tunes retries of a Guarded provider.
type GuardOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultGuardOptions retries briefly; a calibration step should not hang.
var DefaultGuardOptions = GuardOptions{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  10 * time.Second,
}

// Guarded retries transient provider errors with exponential backoff and
// stops calling a provider that keeps failing. Any error it returns wraps
// ErrProviderUnavailable.
type Guarded struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	opts    GuardOptions
}

// NewCircuitBreaker returns a breaker that trips after 3 consecutive failures
// and tries again after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("measurement circuit breaker changed state")
		},
	})
}

// NewGuarded wraps inner. A nil breaker gets NewCircuitBreaker("measure").
func NewGuarded(inner Provider, breaker *gobreaker.CircuitBreaker, opts GuardOptions) *Guarded {
	if breaker == nil {
		breaker = NewCircuitBreaker("measure")
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultGuardOptions.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultGuardOptions.MaxInterval
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = DefaultGuardOptions.MaxElapsedTime
	}
	return &Guarded{inner: inner, breaker: breaker, opts: opts}
}

func (g *Guarded) Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
	attempt := 0
	op := func() (calibration.Verdict, error) {
		attempt++
		res, err := g.breaker.Execute(func() (interface{}, error) {
			return g.inner.Measure(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return calibration.Verdict{}, backoff.Permanent(err)
			}
			logrus.WithFields(logrus.Fields{
				"workflow": req.Workflow,
				"step":     req.Step.ID,
				"attempt":  attempt,
			}).WithError(err).Debug("measurement attempt failed")
			return calibration.Verdict{}, err
		}
		return res.(calibration.Verdict), nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(g.opts.InitialInterval),
		backoff.WithMaxInterval(g.opts.MaxInterval),
		backoff.WithMaxElapsedTime(g.opts.MaxElapsedTime),
	)
	v, err := backoff.RetryWithData(op, backoff.WithContext(b, ctx))
	if err != nil {
		return calibration.Verdict{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return v, nil
}

// Pointed stamps the current fixture point on every request before handing
// it to the wrapped provider.
type Pointed struct {
	Inner Provider
	Point func() string
}

func (p Pointed) Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
	if p.Point != nil {
		req.Point = p.Point()
	}
	return p.Inner.Measure(ctx, req)
}

// Configured attaches the step's current parameter record to every request.
// A step without parameters is measured without settings.
type Configured struct {
	Inner    Provider
	Settings func(stepID string) (any, error)
}

func (c Configured) Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
	if c.Settings != nil {
		settings, err := c.Settings(req.Step.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"workflow": req.Workflow,
				"step":     req.Step.ID,
			}).WithError(err).Debug("measuring without settings")
		} else {
			req.Settings = settings
		}
	}
	return c.Inner.Measure(ctx, req)
}
