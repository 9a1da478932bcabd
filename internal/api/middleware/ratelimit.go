// Package middleware provides HTTP middleware components for the aggregator API.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    = 2
	defaultGlobalRPS           = 100
	defaultClientRPS           = 20
	defaultMaxClients          = 10000
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter decides whether an incoming request should be allowed.
	//
	// clientID identifies the caller; for HTTP traffic this is the remote
	// address without the port. An empty clientID is still subject to the
	// global limit.
	RateLimiter interface {
		Allow(clientID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Two tiers: a global token bucket shared by all traffic, and a lazily
	// created per-client bucket. Clients idle longer than the idle timeout
	// are removed by a background cleanup loop.
	//
	// Suitable for single-node deployments.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perClient     map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}

		clientRPS       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
	}

	// clientLimiter tracks rate limit state for a single client.
	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a two-tier in-memory rate limiter.
//
// Burst capacity defaults to 2x the sustained rate unless overridden.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, ClientRPS: 20})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	clientBurst := computeBurstCapacity(config.ClientRPS, config.ClientBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perClient:       make(map[string]*clientLimiter),
		done:            make(chan struct{}),
		clientRPS:       config.ClientRPS,
		clientBurst:     clientBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxClients:      config.MaxClients,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns the override when set, otherwise 2x the rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow checks the global limit first, then the per-client limit.
func (rl *InMemoryRateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if clientID == "" {
		return true
	}

	rl.mu.RLock()
	cl, ok := rl.perClient[clientID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		if cl, ok = rl.perClient[clientID]; !ok {
			// Bound the map; past the cap, new clients fall back to the
			// global limit only
			if len(rl.perClient) >= rl.maxClients {
				rl.mu.Unlock()

				return true
			}

			cl = &clientLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
				lastAccess: time.Now(),
			}

			rl.perClient[clientID] = cl
		}
		rl.mu.Unlock()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

// startCleanup starts a background goroutine that periodically removes
// stale client limiters to prevent unbounded memory growth.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes client limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for clientID, cl := range rl.perClient {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perClient, clientID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests, identified by remote IP. Limited requests get a 429 response.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientAddr(r)

			if !limiter.Allow(clientID) {
				correlationID := GetCorrelationID(r.Context())
				detail := "Rate limit exceeded. Please retry after some time."

				if err := writeErrorBody(w, http.StatusTooManyRequests, "Too Many Requests", detail); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr returns the request's remote IP without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
