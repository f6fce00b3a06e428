package generate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	docerrors "github.com/docsense/docsense/internal/errors"
)

// Answer is the result of one generation.
type Answer struct {
	Text         string
	ModelUsed    string
	FallbackUsed bool
}

// Gateway owns the shared generation capacity and the retry/fallback
// policy. Chat requests queue for a slot until their context expires;
// summarize requests take a slot only if one is free right now.
type Gateway struct {
	client   Client
	sem      *semaphore.Weighted
	capacity int64

	primary     string
	fallback    string
	maxRetries  int
	maxTokens   int
	temperature float64

	logger *slog.Logger
}

// GatewayOptions configures the gateway.
type GatewayOptions struct {
	PrimaryModel  string
	FallbackModel string
	MaxRetries    int
	MaxTokens     int
	Temperature   float64
	Capacity      int64
}

// NewGateway creates a gateway over the given client.
func NewGateway(client Client, opts GatewayOptions, logger *slog.Logger) *Gateway {
	if opts.Capacity <= 0 {
		opts.Capacity = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:      client,
		sem:         semaphore.NewWeighted(opts.Capacity),
		capacity:    opts.Capacity,
		primary:     opts.PrimaryModel,
		fallback:    opts.FallbackModel,
		maxRetries:  opts.MaxRetries,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      logger,
	}
}

// Chat generates an answer, queueing for capacity. The wait is bounded
// by ctx, so a cancelled or expired request leaves the queue.
func (g *Gateway) Chat(ctx context.Context, system, user string, onToken func(string)) (*Answer, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.generate(ctx, system, user, onToken)
}

// TryChat generates without queueing: when all capacity slots are taken
// it fails immediately with a capacity error. Used by summarization,
// where callers prefer a busy signal over waiting behind chat traffic.
func (g *Gateway) TryChat(ctx context.Context, system, user string, onToken func(string)) (*Answer, error) {
	if !g.sem.TryAcquire(1) {
		return nil, docerrors.CapacityExceeded("generation capacity exhausted")
	}
	defer g.sem.Release(1)
	return g.generate(ctx, system, user, onToken)
}

// generate runs the primary model with transient-error retries, then the
// fallback model once if the primary is exhausted.
func (g *Gateway) generate(ctx context.Context, system, user string, onToken func(string)) (*Answer, error) {
	text, emitted, err := g.attemptModel(ctx, g.primary, system, user, onToken)
	if err == nil {
		return &Answer{Text: text, ModelUsed: g.primary}, nil
	}
	// A fallback pass would duplicate tokens the caller already received.
	if emitted || ctx.Err() != nil || g.fallback == "" || g.fallback == g.primary {
		return nil, err
	}

	g.logger.Warn("primary model failed, trying fallback",
		slog.String("primary", g.primary),
		slog.String("fallback", g.fallback),
		slog.String("error", err.Error()))

	text, _, fbErr := g.attemptModel(ctx, g.fallback, system, user, onToken)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return &Answer{Text: text, ModelUsed: g.fallback, FallbackUsed: true}, nil
}

// attemptModel calls one model, retrying transient failures with
// exponential backoff up to maxRetries additional attempts.
func (g *Gateway) attemptModel(ctx context.Context, model, system, user string, onToken func(string)) (string, bool, error) {
	req := Request{
		System:      system,
		User:        user,
		Model:       model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	var text string
	attempt := 0
	emitted := false
	operation := func() error {
		attempt++
		var err error
		if onToken != nil {
			text, err = g.client.Stream(ctx, req, func(token string) {
				emitted = true
				onToken(token)
			})
		} else {
			text, err = g.client.Complete(ctx, req)
		}
		if err == nil {
			return nil
		}
		// Once tokens reached the caller a retry would duplicate output.
		if emitted {
			return backoff.Permanent(err)
		}
		if docerrors.IsRetryable(err) {
			g.logger.Debug("transient generation failure",
				slog.String("model", model),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", emitted, err
	}
	return text, emitted, nil
}
