package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitedResolver wraps a Resolver so every resolved client paces its
// upstream calls through a per-agent token bucket. Vendor agent endpoints
// throttle aggressively; pacing here keeps a burst of conversation traffic
// from tripping 429s across every in-flight request.
type RateLimitedResolver struct {
	inner             Resolver
	requestsPerSecond float64
	burst             int

	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRateLimitedResolver wraps a resolver with per-agent rate limiting.
func NewRateLimitedResolver(inner Resolver, requestsPerSecond float64, burst int) *RateLimitedResolver {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimitedResolver{
		inner:             inner,
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		limiters:          make(map[string]*rate.Limiter),
	}
}

// Resolve returns the agent's client wrapped with its rate limiter.
func (r *RateLimitedResolver) Resolve(name string) (Client, error) {
	client, err := r.inner.Resolve(name)
	if err != nil {
		return nil, err
	}
	return &limitedClient{client: client, limiter: r.agentLimiter(name)}, nil
}

func (r *RateLimitedResolver) agentLimiter(name string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[name]
	r.mu.RUnlock()
	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, exists := r.limiters[name]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(r.requestsPerSecond), r.burst)
	r.limiters[name] = limiter
	return limiter
}

type limitedClient struct {
	client  Client
	limiter *rate.Limiter
}

func (c *limitedClient) Name() string { return c.client.Name() }

func (c *limitedClient) Converse(ctx context.Context, history []Message) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return c.client.Converse(ctx, history)
}

// Generate passes through when the underlying client is a freeform generator,
// keeping the Generator capability visible behind the limiter.
func (c *limitedClient) Generate(ctx context.Context, prompt string) (string, error) {
	gen, ok := c.client.(Generator)
	if !ok {
		return "", fmt.Errorf("agent %s is not a freeform generator", c.client.Name())
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return gen.Generate(ctx, prompt)
}
