package auth

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// clientLimiter tracks requests for a single client
type clientLimiter struct {
	requests []time.Time
	lastSeen time.Time
	mu       sync.Mutex
}

// RateLimiter is an in-memory sliding-window limiter keyed by client.
type RateLimiter struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter starts a limiter that drops idle clients every
// cleanupInterval. Call Stop to end the cleanup goroutine.
func NewRateLimiter(cleanupInterval time.Duration) *RateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rl.cleanupLoop(cleanupInterval)
	return rl
}

// Allow records a request for clientID and reports whether it fits in
// limitPerMinute. When it does not, retryAfter is the wait until the
// oldest request leaves the window. A non-positive limit disables limiting.
func (rl *RateLimiter) Allow(clientID string, limitPerMinute int) (allowed bool, retryAfter time.Duration) {
	if limitPerMinute <= 0 {
		return true, 0
	}
	now := rl.now()

	rl.mu.Lock()
	client, exists := rl.clients[clientID]
	if !exists {
		client = &clientLimiter{}
		rl.clients[clientID] = client
	}
	rl.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()

	windowStart := now.Add(-rateWindow)
	kept := client.requests[:0]
	for _, t := range client.requests {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	client.requests = kept
	client.lastSeen = now

	if len(client.requests) >= limitPerMinute {
		return false, client.requests[0].Add(rateWindow).Sub(now)
	}
	client.requests = append(client.requests, now)
	return true, 0
}

// Stats reports tracked clients and their in-window request counts.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := rl.now().Add(-rateWindow)
	clients := make(map[string]int, len(rl.clients))
	for id, client := range rl.clients {
		client.mu.Lock()
		n := 0
		for _, t := range client.requests {
			if t.After(windowStart) {
				n++
			}
		}
		client.mu.Unlock()
		clients[id] = n
	}
	return map[string]interface{}{
		"total_clients": len(rl.clients),
		"clients":       clients,
	}
}

// cleanup removes clients idle for five windows.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-5 * rateWindow)
	for id, client := range rl.clients {
		client.mu.Lock()
		idle := client.lastSeen.Before(cutoff)
		client.mu.Unlock()
		if idle {
			delete(rl.clients, id)
		}
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer close(rl.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}
