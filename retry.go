package bluebonnet

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryProvider wraps a Provider and retries transient failures with
// status-dependent exponential backoff: 429 backs off 2s/4s/8s, 5xx and
// transport errors back off 1s/2s/4s, and other 4xx fail immediately.
// Each attempt runs under a hard per-call deadline.
type retryProvider struct {
	inner       Provider
	maxAttempts int           // initial call plus retries
	base429     time.Duration // first delay after a 429
	base5xx     time.Duration // first delay after a 5xx or transport error
	callTimeout time.Duration // per-attempt deadline; 0 disables
	logger      *slog.Logger  // nil = nopLogger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the total number of attempts, the initial call
// included (default: 4 — one call plus three retries).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelays sets the first backoff delay for 429 responses and for
// 5xx/transport failures. Each subsequent delay doubles. Defaults: 2s and 1s.
func RetryBaseDelays(on429, on5xx time.Duration) RetryOption {
	return func(r *retryProvider) {
		r.base429 = on429
		r.base5xx = on5xx
	}
}

// RetryCallTimeout sets the hard deadline applied to each individual attempt
// (default: 30s). Zero disables the per-attempt deadline.
func RetryCallTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.callTimeout = d }
}

// RetryLogger sets the structured logger for retry events. When set, retries
// log at WARN level and final failures after exhausting attempts log at ERROR.
// If not set, a no-op logger is used (no output).
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient failures. HTTP 429
// backs off 2s, 4s, 8s (honoring a longer Retry-After when the server sends
// one); 5xx and transport errors back off 1s, 2s, 4s; other 4xx responses
// return immediately. No retry starts after the caller's context is done.
// Compose with any Provider:
//
//	llm = bluebonnet.WithRetry(openaicompat.NewProvider(key, model, baseURL))
//	llm = bluebonnet.WithRetry(p, bluebonnet.RetryLogger(logger))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 4,
		base429:     2 * time.Second,
		base5xx:     time.Second,
		callTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Complete implements Provider with retry.
func (r *retryProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return retryCall(ctx, r.retryConfig(), func(ctx context.Context) (ChatResponse, error) {
		return r.inner.Complete(ctx, req)
	})
}

func (r *retryProvider) retryConfig() retryConfig {
	return retryConfig{
		maxAttempts: r.maxAttempts,
		base429:     r.base429,
		base5xx:     r.base5xx,
		callTimeout: r.callTimeout,
		name:        r.inner.Name(),
		logger:      r.logger,
	}
}

type retryConfig struct {
	maxAttempts int
	base429     time.Duration
	base5xx     time.Duration
	callTimeout time.Duration
	name        string
	logger      *slog.Logger
}

// retryCall calls fn up to maxAttempts times, sleeping between transient
// failures. Each attempt runs under its own callTimeout deadline so a stuck
// connection cannot hold the loop.
func retryCall[T any](ctx context.Context, cfg retryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < cfg.maxAttempts; i++ {
		result, err := attemptOnce(ctx, cfg.callTimeout, fn)
		if err == nil {
			return result, nil
		}
		delay, retryable := retryDelay(err, i, cfg)
		// A deadline hit on the outer ctx must surface as the caller's
		// cancellation, not as one more transient failure.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable {
			return zero, err
		}
		last = err
		cfg.logger.Warn("retrying transient error",
			"provider", cfg.name,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", cfg.maxAttempts)
		if i < cfg.maxAttempts-1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	cfg.logger.Error("all retry attempts exhausted",
		"provider", cfg.name,
		"attempts", cfg.maxAttempts,
		"error", last)
	return zero, last
}

// attemptOnce runs fn under a per-attempt deadline when callTimeout is set.
func attemptOnce[T any](ctx context.Context, callTimeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, callTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// retryDelay classifies err and returns the backoff before retry i
// (0-indexed) and whether the error is retryable at all. The server's
// Retry-After value, when present, acts as a floor on the delay.
func retryDelay(err error, i int, cfg retryConfig) (time.Duration, bool) {
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	var e *ErrHTTP
	if errors.As(err, &e) {
		switch {
		case e.Status == 429:
			return floorRetryAfter(cfg.base429*(1<<i), e.RetryAfter), true
		case e.Status >= 500:
			return floorRetryAfter(cfg.base5xx*(1<<i), e.RetryAfter), true
		default:
			return 0, false // other 4xx: fail fast
		}
	}
	// Transport-level failure (connection refused, per-attempt deadline):
	// same schedule as 5xx.
	return cfg.base5xx * (1 << i), true
}

func floorRetryAfter(backoff, retryAfter time.Duration) time.Duration {
	if retryAfter > backoff {
		return retryAfter
	}
	return backoff
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryEmbeddingProvider wraps an EmbeddingProvider with the same policy.
type retryEmbeddingProvider struct {
	inner EmbeddingProvider
	cfg   retryConfig
}

// WithEmbeddingRetry wraps p with the same retry policy as WithRetry.
// Accepts the same RetryOption functions:
//
//	emb = bluebonnet.WithEmbeddingRetry(openaicompat.NewEmbedding(key, model, baseURL))
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	// Apply options to a scratch retryProvider to collect config values.
	scratch := &retryProvider{
		maxAttempts: 4,
		base429:     2 * time.Second,
		base5xx:     time.Second,
		callTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(scratch)
	}
	logger := scratch.logger
	if logger == nil {
		logger = nopLogger
	}
	return &retryEmbeddingProvider{
		inner: p,
		cfg: retryConfig{
			maxAttempts: scratch.maxAttempts,
			base429:     scratch.base429,
			base5xx:     scratch.base5xx,
			callTimeout: scratch.callTimeout,
			name:        p.Name(),
			logger:      logger,
		},
	}
}

func (r *retryEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *retryEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retryCall(ctx, r.cfg, func(ctx context.Context) ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// compile-time checks
var (
	_ Provider          = (*retryProvider)(nil)
	_ EmbeddingProvider = (*retryEmbeddingProvider)(nil)
)
