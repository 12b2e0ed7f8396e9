// Package embed wraps the external embedding API behind a batching,
// rate-limited, retrying gateway.
//
// The gateway is the only suspension point of an ingestion run that talks to
// an external quota, so it rate-limits proactively and coalesces chunk texts
// into batched API calls. Transient failures (rate limits, 5xx, network) are
// retried with bounded exponential backoff; permanent failures (bad request,
// auth) surface immediately wrapped in ErrPermanent so the coordinator can
// fail just the affected document.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

// ErrPermanent marks embedding failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent embedding failure")

// maxInputLength caps text sent to the embedding API. Longer inputs are
// truncated; the model would truncate them anyway, this keeps it explicit.
const maxInputLength = 8000

// DefaultBatchSize is the number of texts coalesced into one API call.
const DefaultBatchSize = 16

// RetryPolicy bounds the retry loop around one API call.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // initial backoff, doubled per retry
	MaxDelay    time.Duration // backoff ceiling
}

// DefaultRetryPolicy returns sensible defaults for embedding API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Options configures a Gateway.
type Options struct {
	// Dimension is the fixed vector length the store expects. Every
	// returned embedding is validated against it.
	Dimension int

	// BatchSize is the number of texts per API call. Default: DefaultBatchSize.
	BatchSize int

	// RequestsPerMinute throttles API calls. 0 disables throttling.
	RequestsPerMinute int

	// Retry bounds the per-call retry loop. Zero value: DefaultRetryPolicy.
	Retry RetryPolicy

	// RequestOptions is passed through to the embedder on every call,
	// e.g. *genai.EmbedContentConfig to pin the output dimensionality.
	RequestOptions any
}

// Gateway adapts a genkit ai.Embedder to the ingestion pipeline's needs.
// Safe for concurrent use.
type Gateway struct {
	embedder  ai.Embedder
	limiter   *rate.Limiter
	retry     RetryPolicy
	dimension int
	batchSize int
	reqOpts   any
	logger    *slog.Logger
}

// New creates a Gateway. Dimension must be positive.
func New(embedder ai.Embedder, opts Options, logger *slog.Logger) (*Gateway, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", opts.Dimension)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), opts.RequestsPerMinute)
	}

	return &Gateway{
		embedder:  embedder,
		limiter:   limiter,
		retry:     opts.Retry,
		dimension: opts.Dimension,
		batchSize: opts.BatchSize,
		reqOpts:   opts.RequestOptions,
		logger:    logger,
	}, nil
}

// Dimension returns the fixed vector length this gateway produces.
func (g *Gateway) Dimension() int {
	return g.dimension
}

// EmbedTexts embeds texts in order, batching BatchSize inputs per API call.
// The result has exactly one vector per input text.
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))

		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch performs one API call with retry and backoff.
func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := &ai.EmbedRequest{
		Input:   make([]*ai.Document, len(texts)),
		Options: g.reqOpts,
	}
	for i, text := range texts {
		req.Input[i] = ai.DocumentFromText(normalizeInput(text), nil)
	}

	var lastErr error
	delay := g.retry.BaseDelay

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		// Rate limit each attempt: a retry after a rate-limit error must
		// not itself burst past the quota.
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := g.embedder.Embed(ctx, req)
		if err == nil {
			vectors, convErr := g.extractVectors(resp, len(texts))
			if convErr != nil {
				return nil, convErr
			}
			g.logger.Debug("embedded batch", "texts", len(texts), "attempts", attempt)
			return vectors, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		if attempt == g.retry.MaxAttempts {
			break
		}

		g.logger.Debug("retrying embedding call",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during embedding retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retry.MaxDelay)
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", g.retry.MaxAttempts, lastErr)
}

// extractVectors validates the response shape against the request.
func (g *Gateway) extractVectors(resp *ai.EmbedResponse, want int) ([][]float32, error) {
	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrPermanent, len(resp.Embeddings), want)
	}

	vectors := make([][]float32, want)
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != g.dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, store expects %d",
				ErrPermanent, i, len(e.Embedding), g.dimension)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// normalizeInput flattens newlines and truncates oversized input on a rune
// boundary.
func normalizeInput(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > maxInputLength {
		cut := maxInputLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

// retryableError reports whether an embedding API error is transient.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Rate limits and quota exhaustion.
	if containsAny(errStr, "rate limit", "quota exceeded", "resource exhausted", "429") {
		return true
	}
	// Transient server errors.
	if containsAny(errStr, "500", "502", "503", "504", "unavailable", "overloaded") {
		return true
	}
	// Network errors.
	if containsAny(errStr, "connection reset", "timeout", "temporary", "eof") {
		return true
	}

	return false
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
