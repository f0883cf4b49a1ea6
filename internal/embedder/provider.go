package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/time/rate"

	"github.com/54b3r/agrofinder-go/internal/logging"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

const (
	// DefaultAttemptTimeout bounds a single backend request.
	DefaultAttemptTimeout = 120 * time.Second
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// defaultBaseDelay is the first backoff delay; it doubles per retry.
	defaultBaseDelay = 500 * time.Millisecond
	// defaultMaxDelay caps a single backoff delay.
	defaultMaxDelay = 10 * time.Second
)

// ProviderOptions configures a Provider. Zero values select the defaults.
type ProviderOptions struct {
	// Dimensions is the vector length every returned embedding must have. Required.
	Dimensions int
	// AttemptTimeout bounds each backend request (default: 120s).
	AttemptTimeout time.Duration
	// MaxRetries is the retry budget for transient failures (default: 3).
	// Use a negative value to disable retries.
	MaxRetries int
	// BaseDelay is the initial backoff delay (default: 500ms).
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay (default: 10s).
	MaxDelay time.Duration
	// RequestsPerSecond paces backend requests client-side (0 = unlimited).
	RequestsPerSecond float64
	// Burst is the pacing burst size (default: 1).
	Burst int
	// Logger receives retry warnings. Defaults to the context logger.
	Logger *slog.Logger
}

// Provider implements rag.Embedder on top of a Backend. EmbedBatch either
// returns exactly one vector of the configured dimension per input text or
// fails; partial results are never returned.
type Provider struct {
	backend    Backend
	dims       int
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleep waits between retries. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// compile-time interface checks
var (
	_ rag.Embedder       = (*Provider)(nil)
	_ embedding.Embedder = (*Provider)(nil)
)

// NewProvider wraps backend.
func NewProvider(backend Backend, opts ProviderOptions) (*Provider, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: embedder: backend must not be nil", rag.ErrConfig)
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedder: dimensions must be positive", rag.ErrConfig)
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	switch {
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	case opts.MaxRetries == 0:
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}

	p := &Provider{
		backend:    backend,
		dims:       opts.Dimensions,
		timeout:    opts.AttemptTimeout,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		logger:     opts.Logger,
		sleep:      sleepCtx,
	}
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Burst, 1)
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return p, nil
}

// Dimensions implements rag.Embedder.
func (p *Provider) Dimensions() int { return p.dims }

// Backend returns the wrapped backend.
func (p *Provider) Backend() Backend { return p.backend }

// Embed implements rag.Embedder.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements rag.Embedder. Transient failures are retried with
// exponential backoff and jitter; count or dimension mismatches are fatal.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx = callbacks.EnsureRunInfo(ctx, p.GetType(), components.ComponentOfEmbedding)
	ctx = callbacks.OnStart(ctx, &embedding.CallbackInput{
		Texts:  texts,
		Config: &embedding.Config{Model: p.backend.Model()},
	})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
			return
		}
		callbacks.OnEnd(ctx, &embedding.CallbackOutput{
			Embeddings: toFloat64(vecs),
			Config:     &embedding.Config{Model: p.backend.Model()},
		})
	}()

	log := p.log(ctx)

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt)
			log.Warn("embedder: retrying after transient failure",
				slog.String("backend", p.backend.Name()),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr),
			)
			if err := p.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", rag.ErrEmbedding, p.backend.Name(), err)
			}
		}

		out, err := p.attempt(ctx, texts)
		if err == nil {
			return p.check(texts, out)
		}
		lastErr = err
		if !isTransient(ctx, err) {
			break
		}
	}

	return nil, fmt.Errorf("%w: %s: %w", rag.ErrEmbedding, p.backend.Name(), lastErr)
}

// attempt runs one paced, time-bounded backend request.
func (p *Provider) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.backend.Embed(actx, texts)
}

// check enforces the count and dimension contract on a backend response.
func (p *Provider) check(texts []string, vecs [][]float32) ([][]float32, error) {
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts",
			rag.ErrEmbedding, p.backend.Name(), len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != p.dims {
			return nil, fmt.Errorf("%w: %s embedding %d has %d dimensions, expected %d",
				rag.ErrDimensionMismatch, p.backend.Name(), i, len(v), p.dims)
		}
	}
	return vecs, nil
}

// backoff returns the delay before retry number attempt (1-based): the base
// delay doubled per retry, capped, plus up to 50% jitter.
func (p *Provider) backoff(attempt int) time.Duration {
	d := p.baseDelay << (attempt - 1)
	if d <= 0 || d > p.maxDelay {
		d = p.maxDelay
	}
	return d + rand.N(d/2+1)
}

func (p *Provider) log(ctx context.Context) *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return logging.FromContext(ctx)
}

// GetType names the component in eino callback run info.
func (p *Provider) GetType() string { return "AgroFinder" + p.backend.Name() }

// IsCallbacksEnabled tells eino that this component emits its own callbacks.
func (p *Provider) IsCallbacksEnabled() bool { return true }

// EmbedStrings implements eino's embedding.Embedder so the provider can be
// used inside eino graphs. Options are ignored.
func (p *Provider) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	vecs, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return toFloat64(vecs), nil
}

func toFloat64(vecs [][]float32) [][]float64 {
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		f := make([]float64, len(v))
		for j, x := range v {
			f[j] = float64(x)
		}
		out[i] = f
	}
	return out
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
