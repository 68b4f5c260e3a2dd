package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackChain tries clients in order. A rate-limited or unreachable
// primary rotates to the next backend; non-transient errors (bad request,
// context overflow) surface immediately since every backend would fail the
// same way.
type FallbackChain struct {
	clients []ChatClient
	log     *slog.Logger
}

func NewFallbackChain(clients ...ChatClient) *FallbackChain {
	return &FallbackChain{
		clients: clients,
		log:     slog.Default().With("component", "llm"),
	}
}

func (f *FallbackChain) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f == nil || len(f.clients) == 0 {
		return nil, errors.New("no chat clients configured")
	}

	var lastErr error
	for i, client := range f.clients {
		resp, err := client.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if !isRotatable(err) {
			return nil, err
		}
		if i < len(f.clients)-1 {
			f.log.Warn("chat backend failed, rotating to fallback", "backend", i, "error", err)
		}
	}
	return nil, fmt.Errorf("all %d chat backends failed: %w", len(f.clients), lastErr)
}

// isRotatable reports whether a different backend could plausibly succeed.
func isRotatable(err error) bool {
	if IsLikelyContextOverflowError(err) {
		return false
	}
	if IsLikelyRateLimitError(err) {
		return true
	}
	// Transport-level failures (connection refused, timeouts, 5xx) are worth
	// a rotation; anything else is assumed to be a request problem.
	return isLikelyTransportText(err.Error())
}
