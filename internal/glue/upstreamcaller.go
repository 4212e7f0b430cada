package glue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kagenti/mcp-gateway/internal/router"
	"github.com/kagenti/mcp-gateway/internal/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

// EndpointResolver resolves an upstream's currently-enabled endpoints, e.g.
// from internal/session's EndpointCache with a control-plane-backed builder
// on a cache miss.
type EndpointResolver func(ctx context.Context, upstreamID string) ([]upstream.Endpoint, error)

// dialer is the narrow surface UpstreamDispatcher needs from a connection
// pool: call one attempt, and drop a connection that turned out to be bad.
// Kept separate from *upstream.Manager so tests can exercise the retry loop
// without a live upstream endpoint.
type dialer interface {
	callOnce(ctx context.Context, upstreamID string, endpoint upstream.Endpoint, originalName string, args map[string]any, hop int) (*mcp.CallToolResult, error)
	invalidate(upstreamID, endpointID string) error
}

type managerDialer struct {
	manager *upstream.Manager
}

func (m *managerDialer) callOnce(ctx context.Context, upstreamID string, endpoint upstream.Endpoint, originalName string, args map[string]any, hop int) (*mcp.CallToolResult, error) {
	conn, err := m.manager.Get(ctx, upstreamID, endpoint, hop)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      originalName,
			Arguments: args,
		},
	})
}

func (m *managerDialer) invalidate(upstreamID, endpointID string) error {
	return m.manager.Invalidate(upstreamID, endpointID)
}

// UpstreamDispatcher implements router.UpstreamCaller against a pooled
// upstream.Manager: it round-robins across an upstream's equivalent
// endpoints on failure and retries per the resolved RetryPolicy, honoring
// the Dispatch-computed deadline throughout.
type UpstreamDispatcher struct {
	dialer    dialer
	Endpoints EndpointResolver
	Logger    *slog.Logger
}

// NewUpstreamDispatcher wires a Manager and EndpointResolver together. Its
// Call method is the router.UpstreamCaller to pass into glue.Config.
func NewUpstreamDispatcher(manager *upstream.Manager, endpoints EndpointResolver, logger *slog.Logger) *UpstreamDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpstreamDispatcher{dialer: &managerDialer{manager: manager}, Endpoints: endpoints, Logger: logger}
}

// Call matches router.UpstreamCaller.
func (d *UpstreamDispatcher) Call(
	ctx context.Context,
	sourceID, originalName string,
	args map[string]any,
	hop int,
	policy *router.RetryPolicy,
	deadline time.Time,
) (*mcp.CallToolResult, error) {
	if hop >= upstream.MaxHops {
		return nil, fmt.Errorf("glue: proxy loop detected (max hops %d exceeded) calling %q", upstream.MaxHops, sourceID)
	}

	endpoints, err := d.Endpoints(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("glue: resolve endpoints for %q: %w", sourceID, err)
	}
	enabled := make([]upstream.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Enabled {
			enabled = append(enabled, ep)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("glue: upstream %q has no enabled endpoints", sourceID)
	}

	maxAttempts := router.MaxAttempts(policy)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("glue: tool call to %q timed out before attempt %d", sourceID, attempt)
		}

		if attempt > 1 {
			delay := router.RetryDelay(*policy, attempt)
			if delay > 0 {
				if delay >= remaining {
					return nil, fmt.Errorf("glue: tool call to %q timed out waiting to retry", sourceID)
				}
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
				remaining = time.Until(deadline)
				if remaining <= 0 {
					return nil, fmt.Errorf("glue: tool call to %q timed out before attempt %d", sourceID, attempt)
				}
			}
		}

		endpoint := enabled[(attempt-1)%len(enabled)]
		callCtx, cancel := context.WithTimeout(ctx, remaining)
		result, callErr := d.dialer.callOnce(callCtx, sourceID, endpoint, originalName, args, hop)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		category := classifyError(timedOut, callErr)
		if invalidateErr := d.dialer.invalidate(sourceID, endpoint.ID); invalidateErr != nil {
			d.Logger.Warn("failed to invalidate upstream connection after error", "upstream", sourceID, "endpoint", endpoint.ID, "error", invalidateErr)
		}
		if !router.ShouldRetry(policy, category) || attempt >= maxAttempts {
			return nil, fmt.Errorf("glue: upstream %q call failed (attempt %d/%d, category %s): %w", sourceID, attempt, maxAttempts, category, callErr)
		}
		d.Logger.Warn("retrying upstream tool call", "upstream", sourceID, "endpoint", endpoint.ID, "attempt", attempt, "category", category, "error", callErr)
	}
	return nil, fmt.Errorf("glue: upstream %q exhausted retries: %w", sourceID, lastErr)
}

// classifyError maps a failed upstream call to the ErrorCategory retry
// policies are configured against. A net.Error's own Timeout() bit, or the
// call's context hitting its per-attempt deadline, both read as a timeout;
// any other error reads as a plain transport failure, so a policy with no
// NonRetryableErrorTypes entry still gets a chance to retry it.
func classifyError(timedOut bool, err error) router.ErrorCategory {
	if timedOut {
		return router.CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return router.CategoryTimeout
	}
	return router.CategoryTransport
}
