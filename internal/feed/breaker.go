package feed

import (
	"context"
	"errors"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"callsync/internal/config"
	"callsync/internal/metrics"
)

// BreakerFeed stops calling a failing upstream for a while. Rejections while
// the circuit is open surface as ordinary page failures.
type BreakerFeed struct {
	next SessionFeed
	cb   *gobreaker.CircuitBreaker[Page]
}

func NewBreakerFeed(next SessionFeed, cfg config.BreakerConfig, logger *zap.Logger) *BreakerFeed {
	const name = "upstream-sessions"
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.6
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpstreamBreakerState.WithLabelValues(name).Set(float64(to))
			if logger != nil {
				logger.Warn("upstream breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		},
	}
	metrics.UpstreamBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return &BreakerFeed{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[Page](settings),
	}
}

func (b *BreakerFeed) FetchSessions(ctx context.Context, q Query) (Page, error) {
	page, err := b.cb.Execute(func() (Page, error) {
		p, err := b.next.FetchSessions(ctx, q)
		if err == nil && !p.Success {
			err = errors.New(p.Error)
		}
		return p, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Page{Error: err.Error()}, fmt.Errorf("upstream sessions: %w", err)
	}
	return page, err
}

func (b *BreakerFeed) State() gobreaker.State {
	return b.cb.State()
}

var _ SessionFeed = (*BreakerFeed)(nil)
