// Package callbacks wraps the caller-supplied LLM and embedding functions
// with circuit breaking and outbound rate limiting. Souvenir never talks to
// a model provider directly — callers hand it a plain function, and this
// package is the only thing standing between that function and the
// consolidation/recall code that invokes it repeatedly.
package callbacks

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned when the breaker is open and rejects a call
// without invoking the wrapped function.
var ErrCircuitOpen = errors.New("souvenir: callback circuit breaker is open")

// LLMFunc is the caller-supplied text-generation callback: given a system
// prompt and a user prompt, return the model's raw text response.
type LLMFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// EmbeddingFunc is the caller-supplied embedding callback: given text,
// return its vector representation.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// Config tunes the breaker and limiter. Zero value resolves to the
// defaults below.
type Config struct {
	// MaxFailures is consecutive failures before the circuit opens. Default 3.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again. Default 30s.
	OpenTimeout time.Duration
	// HalfOpenMaxSuccesses closes the circuit again after this many consecutive
	// half-open successes. Default 2.
	HalfOpenMaxSuccesses uint32
	// RatePerSecond caps outbound calls per second. Default 0 disables limiting.
	RatePerSecond float64
	// Burst is the limiter's burst size. Default 1.
	Burst int
}

func (c Config) withDefaults() Config {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxSuccesses == 0 {
		c.HalfOpenMaxSuccesses = 2
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	return c
}

// Resilient wraps a single named callback with a breaker and an optional
// limiter. One instance should be shared across every call site for a
// given callback so failures accumulate into the same breaker state.
type Resilient struct {
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewResilient constructs a breaker (and, if RatePerSecond > 0, a limiter)
// named for logging/metrics purposes.
func NewResilient(name string, cfg Config) *Resilient {
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}

	r := &Resilient{breaker: gobreaker.NewCircuitBreaker(settings)}
	if cfg.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return r
}

// WrapLLM returns an LLMFunc that runs fn through the breaker and limiter.
func (r *Resilient) WrapLLM(fn LLMFunc) LLMFunc {
	return func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		result, err := r.breaker.Execute(func() (interface{}, error) {
			return fn(ctx, systemPrompt, userPrompt)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				return "", ErrCircuitOpen
			}
			return "", err
		}
		return result.(string), nil
	}
}

// WrapEmbedding returns an EmbeddingFunc that runs fn through the breaker
// and limiter.
func (r *Resilient) WrapEmbedding(fn EmbeddingFunc) EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		result, err := r.breaker.Execute(func() (interface{}, error) {
			return fn(ctx, text)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				return nil, ErrCircuitOpen
			}
			return nil, err
		}
		return result.([]float32), nil
	}
}

// State returns the breaker's current state: "closed", "open", or "half-open".
func (r *Resilient) State() string {
	switch r.breaker.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
