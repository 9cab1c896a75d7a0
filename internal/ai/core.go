package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond

	// TruncationMarker is appended to inputs cut down to the provider limit.
	TruncationMarker = " [truncated]"
)

type batchFunc func(ctx context.Context, batch []string) ([][]float32, error)

// embedCore holds what every adapter shares: truncation, batching,
// throttling, bounded retries and dimension checks.
type embedCore struct {
	name          string
	model         string
	dimensions    int
	maxInputChars int
	batchSize     int
	maxRetries    int
	retryDelay    time.Duration
	timeout       time.Duration
	limiter       *rate.Limiter
	sleep         func(ctx context.Context, d time.Duration) error
}

func newEmbedCore(name string, cfg *ProviderArgs, batchSize, maxInputChars int) *embedCore {
	c := &embedCore{
		name:          name,
		model:         cfg.Model,
		dimensions:    cfg.Dimensions,
		maxInputChars: maxInputChars,
		batchSize:     batchSize,
		maxRetries:    defaultMaxRetries,
		retryDelay:    defaultRetryDelay,
		timeout:       defaultTimeout,
		sleep:         sleepContext,
	}
	if cfg.MaxInputChars > 0 {
		c.maxInputChars = cfg.MaxInputChars
	}
	if c.batchSize <= 0 {
		c.batchSize = 1
	}
	switch {
	case cfg.MaxRetries < 0:
		c.maxRetries = 0
	case cfg.MaxRetries > 0:
		c.maxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelayMillis > 0 {
		c.retryDelay = time.Duration(cfg.RetryDelayMillis) * time.Millisecond
	}
	if cfg.TimeoutSeconds > 0 {
		c.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

func (c *embedCore) Name() string {
	return c.name
}

func (c *embedCore) Model() string {
	return c.model
}

func (c *embedCore) Dimensions() int {
	return c.dimensions
}

func (c *embedCore) MaxInputChars() int {
	return c.maxInputChars
}

func (c *embedCore) httpClient() *http.Client {
	return &http.Client{Timeout: c.timeout}
}

func (c *embedCore) embed(ctx context.Context, texts []string, call batchFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	prepared := make([]string, len(texts))
	for i, text := range texts {
		prepared[i] = truncateInput(text, c.maxInputChars)
	}
	out := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += c.batchSize {
		end := start + c.batchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		batch := prepared[start:end]
		vectors, err := c.withRetry(ctx, func(ctx context.Context) ([][]float32, error) {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return nil, &APIError{Provider: c.name, Msg: "throttle wait", Err: err}
				}
			}
			return call(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, &APIError{Provider: c.name, Msg: fmt.Sprintf("got %d vectors for %d inputs", len(vectors), len(batch))}
		}
		for _, vec := range vectors {
			if len(vec) != c.dimensions {
				return nil, newConfigError(c.name, "dimension mismatch: model %s returned %d, expected %d", c.model, len(vec), c.dimensions)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

func (c *embedCore) embedOne(ctx context.Context, text string, call batchFunc) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, call)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *embedCore) withRetry(ctx context.Context, fn func(ctx context.Context) ([][]float32, error)) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.retryDelay, attempt)
			if rlErr, ok := lastErr.(*RateLimitError); ok && rlErr.RetryAfter > delay {
				delay = rlErr.RetryAfter
			}
			if err := c.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		logutil.GetLogger(ctx).Warn("embedding request failed",
			zap.String("provider", c.name),
			zap.String("model", c.model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func truncateInput(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	marker := []rune(TruncationMarker)
	keep := maxChars - len(marker)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + TruncationMarker
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
