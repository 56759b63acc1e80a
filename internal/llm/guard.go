package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"invoicing-backend/internal/models"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("AI provider temporarily unavailable")

type GuardSettings struct {
	RequestsPerMinute int // <= 0 disables pacing
	MaxFailures       uint32
	Timeout           time.Duration
	Interval          time.Duration
}

// Guard paces outbound calls and stops calling a failing provider until the
// breaker timeout elapses. Only stream setup is guarded; errors after the
// first byte end the stream without counting as failures.
type Guard struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
}

func NewGuard(inner Provider, s GuardSettings) *Guard {
	limit := rate.Inf
	burst := 1
	if s.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(s.RequestsPerMinute) / 60.0)
		burst = s.RequestsPerMinute
	}

	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	interval := s.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "ai:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		breaker: cb,
	}
}

func (g *Guard) Name() string { return g.inner.Name() }

func (g *Guard) State() gobreaker.State { return g.breaker.State() }

func (g *Guard) Complete(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := g.breaker.Execute(func() (any, error) {
		return g.inner.Complete(ctx, messages, systemPrompt, opts)
	})
	if err != nil {
		return "", g.wrap(err)
	}
	return out.(string), nil
}

func (g *Guard) Stream(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (<-chan string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var ch <-chan string
	_, err := g.breaker.Execute(func() (any, error) {
		var streamErr error
		ch, streamErr = g.inner.Stream(ctx, messages, systemPrompt, opts)
		return nil, streamErr
	})
	if err != nil {
		return nil, g.wrap(err)
	}
	return ch, nil
}

func (g *Guard) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("provider %q: %w", g.inner.Name(), ErrCircuitOpen)
	}
	return err
}
