// Package upstream bounds calls to the embedding and generation services with a rate limit
// and a per-call timeout, and classifies their failures.
package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Guard limits the rate and duration of upstream calls.
type Guard struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuard returns a guard allowing rps calls per second with the given burst.
// rps <= 0 disables rate limiting; timeout <= 0 disables the per-call deadline.
func NewGuard(timeout time.Duration, rps float64, burst int) *Guard {
	g := &Guard{timeout: timeout}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return g
}

// Do waits for a rate token, runs fn under the per-call timeout, and classifies its error.
// Cancellation of the caller's context is returned unchanged.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Wait fails early when the deadline cannot accommodate the next token.
			return &models.UpstreamError{Op: op, Err: err, Retryable: true}
		}
	}
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return Classify(op, err)
}

// Classify wraps err as an UpstreamError. Timeouts, network failures, rate limiting,
// and server errors are retryable; other API errors (bad key, bad request) are not.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *models.UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &models.UpstreamError{Op: op, Err: err, Retryable: retryable(err)}
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
