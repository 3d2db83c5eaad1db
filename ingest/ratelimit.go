package ingest

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter bounds batches per client per minute and concurrent
// WebSocket connections per client. A zero limit disables that check.
type RateLimiter struct {
	mu             sync.Mutex
	requestsPerMin int
	maxConns       int
	windows        map[string]*slidingWindow
	connCounts     map[string]int
	now            func() time.Time
}

type slidingWindow struct {
	timestamps []int64
}

func NewRateLimiter(requestsPerMin, maxConns int) *RateLimiter {
	return &RateLimiter{
		requestsPerMin: requestsPerMin,
		maxConns:       maxConns,
		windows:        make(map[string]*slidingWindow),
		connCounts:     make(map[string]int),
		now:            time.Now,
	}
}

// AllowRequest records one batch for client and reports whether it fits in
// the window. When it does not, the second value is the Retry-After in
// seconds.
func (rl *RateLimiter) AllowRequest(client string) (bool, int) {
	if rl.requestsPerMin <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now().UnixMilli()
	windowStart := now - 60000

	window, ok := rl.windows[client]
	if !ok {
		window = &slidingWindow{}
		rl.windows[client] = window
	}

	valid := window.timestamps[:0]
	for _, ts := range window.timestamps {
		if ts > windowStart {
			valid = append(valid, ts)
		}
	}
	window.timestamps = valid

	if len(window.timestamps) >= rl.requestsPerMin {
		oldest := window.timestamps[0]
		retryAfter := int((oldest + 60000 - now) / 1000)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	window.timestamps = append(window.timestamps, now)
	return true, 0
}

func (rl *RateLimiter) AcquireConnection(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	count := rl.connCounts[client]
	if rl.maxConns > 0 && count >= rl.maxConns {
		return false
	}
	rl.connCounts[client] = count + 1
	return true
}

func (rl *RateLimiter) ReleaseConnection(client string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	count := rl.connCounts[client]
	if count > 1 {
		rl.connCounts[client] = count - 1
		return
	}
	delete(rl.connCounts, client)
}

// Sweep forgets clients with no batch inside the current window.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := rl.now().UnixMilli() - 60000
	for client, window := range rl.windows {
		n := len(window.timestamps)
		if n == 0 || window.timestamps[n-1] <= windowStart {
			delete(rl.windows, client)
		}
	}
}

func (rl *RateLimiter) GetLimits() (requestsPerMin, maxConns int) {
	return rl.requestsPerMin, rl.maxConns
}

func WriteRateLimitExceeded(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
}

func WriteConnectionLimitExceeded(w http.ResponseWriter) {
	writeJSONError(w, "connection limit exceeded", http.StatusServiceUnavailable)
}
