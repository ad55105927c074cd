package wakatime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/sakif/coding-leaderboard/internal/metrics"
)

// BreakerSettings tunes BreakerClient. Zero values fall back to the defaults
// of NewBreakerClient.
type BreakerSettings struct {
	// MinRequests is how many calls a window must see before it can trip.
	MinRequests uint32
	// FailureRatio at or above which the breaker opens.
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout time.Duration
}

// BreakerClient wraps an API with a circuit breaker.
//
// During a batch sync every user costs one upstream call. When WakaTime is
// down, the breaker opens after a run of failures and the remaining users
// fail fast with ErrUnavailable instead of each waiting on a timeout.
//
// ErrUnauthorized does not count as a failure: it is a problem with one
// user's credential, not with WakaTime.
type BreakerClient struct {
	next API
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

var _ API = (*BreakerClient)(nil)

// NewBreakerClient wraps next. Defaults: 5 requests minimum, 60% failure
// ratio, 1 minute open.
func NewBreakerClient(next API, settings BreakerSettings, logger *slog.Logger) *BreakerClient {
	if settings.MinRequests == 0 {
		settings.MinRequests = 5
	}
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = 0.6
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = time.Minute
	}

	name := "wakatime-api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrUnauthorized) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &BreakerClient{next: next, cb: cb, name: name}
}

// State reports the breaker state, for health output and tests.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return execute[*Profile](b, func() (any, error) {
		return b.next.FetchProfile(ctx, accessToken)
	})
}

func (b *BreakerClient) FetchRangeSummary(ctx context.Context, accessToken, start, end string) ([]DayTotal, error) {
	return execute[[]DayTotal](b, func() (any, error) {
		return b.next.FetchRangeSummary(ctx, accessToken, start, end)
	})
}

// execute runs fn through the breaker and restores the concrete result type.
func execute[T any](b *BreakerClient, fn func() (any, error)) (T, error) {
	var zero T
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s circuit open", ErrUnavailable, b.name)
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("wakatime: unexpected result type %T", result)
	}
	return typed, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
