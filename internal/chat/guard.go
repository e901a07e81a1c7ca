// ABOUTME: Send pacing and circuit breaking around one agent's chat session
// ABOUTME: Uses x/time/rate for pacing and gobreaker for fail-fast on outages

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	defaultSendInterval = 150 * time.Millisecond
	defaultMaxFailures  = uint32(5)
	defaultOpenTimeout  = 30 * time.Second
	defaultCountWindow  = 60 * time.Second
)

// GuardConfig tunes a Guard. Zero values select defaults.
type GuardConfig struct {
	Name         string
	SendInterval time.Duration
	SendBurst    int
	MaxFailures  uint32
	OpenTimeout  time.Duration
}

// Guard paces sends and trips a breaker on repeated transport failures.
type Guard struct {
	inner   Session
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewGuard wraps inner.
func NewGuard(inner Session, cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.SendInterval
	if interval <= 0 {
		interval = defaultSendInterval
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "chat:" + cfg.Name,
		MaxRequests: 1,
		Interval:    defaultCountWindow,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: countsAsSuccess,
	})

	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		breaker: cb,
		logger:  logger,
	}
}

// countsAsSuccess keeps answers from the platform (auth, challenge) and caller
// cancellation from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrChallenge)
}

// Send waits for the pacing limiter then sends through the breaker.
func (g *Guard) Send(ctx context.Context, chatID, text string, opts SendOptions) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	v, err := g.execute(func() (any, error) {
		return g.inner.Send(ctx, chatID, text, opts)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// History reads through the breaker.
func (g *Guard) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	v, err := g.execute(func() (any, error) {
		return g.inner.History(ctx, chatID, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// MessagesByID reads through the breaker.
func (g *Guard) MessagesByID(ctx context.Context, chatID string, ids []string) ([]Message, error) {
	v, err := g.execute(func() (any, error) {
		return g.inner.MessagesByID(ctx, chatID, ids)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// WhoAmI bypasses the breaker.
func (g *Guard) WhoAmI(ctx context.Context) (string, error) {
	return g.inner.WhoAmI(ctx)
}

// Listen forwards when the wrapped session can listen.
func (g *Guard) Listen(ctx context.Context, chatID string, handle func(Message)) error {
	l, ok := g.inner.(Listener)
	if !ok {
		return ErrTransport
	}
	return l.Listen(ctx, chatID, handle)
}

// State returns the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

func (g *Guard) execute(fn func() (any, error)) (any, error) {
	v, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return v, err
}
