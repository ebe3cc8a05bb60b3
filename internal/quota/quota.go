// Package quota enforces per-user, per-endpoint sliding-window rate
// limits backed by a persistent store. Enforcement fails open: if the
// store is unreachable the request is admitted and the degradation is
// logged and counted, because availability of the support channel is
// itself a safety property.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/acalanto-app/sentinela/internal/obs"
	"go.uber.org/zap"
)

// Limit is the policy tuple for one endpoint class.
type Limit struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

// DefaultLimits returns the per-endpoint policy table. Unknown
// endpoints fall back to DefaultLimit.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"chat_message":        {MaxRequests: 20, Window: time.Hour, BlockDuration: 15 * time.Minute},
		"onboarding_complete": {MaxRequests: 5, Window: 24 * time.Hour, BlockDuration: time.Hour},
		"data_export":         {MaxRequests: 3, Window: 24 * time.Hour, BlockDuration: 6 * time.Hour},
		"data_delete":         {MaxRequests: 2, Window: 24 * time.Hour, BlockDuration: 6 * time.Hour},
	}
}

// DefaultLimit is the conservative fallback for unknown endpoints.
var DefaultLimit = Limit{MaxRequests: 30, Window: time.Hour, BlockDuration: 10 * time.Minute}

// maxRecordAge is how long an idle record survives before Cleanup
// evicts it.
const maxRecordAge = 24 * time.Hour

// storeTimeout bounds every store round-trip so a slow backend can
// never block the caller indefinitely.
const storeTimeout = 2 * time.Second

// Result is the outcome of a quota check.
type Result struct {
	Allowed           bool
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// EndpointStats is a read-only snapshot of one tracked endpoint's
// window, for operator visibility. Produced without mutating the
// record.
type EndpointStats struct {
	Endpoint     string
	InWindow     int
	Limit        int
	BlockedUntil time.Time
}

// Guard is the sliding-window rate limiter.
type Guard struct {
	store  Store
	limits map[string]Limit
	logger *zap.Logger

	// locks serializes read-modify-write per (user, endpoint) key so
	// two concurrent requests can never both observe len < max and
	// both be admitted. Different keys never contend. Entries idle
	// past maxRecordAge are evicted by Cleanup alongside their store
	// records.
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	lastUsed time.Time
}

// NewGuard creates a guard over the given store. A nil limits map uses
// DefaultLimits.
func NewGuard(store Store, limits map[string]Limit, logger *zap.Logger) *Guard {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Guard{
		store:  store,
		limits: limits,
		logger: logger,
		locks:  make(map[string]*keyLock),
	}
}

func (g *Guard) limitFor(endpoint string) Limit {
	if l, ok := g.limits[endpoint]; ok {
		return l
	}
	return DefaultLimit
}

func (g *Guard) lockFor(userID, endpoint string) *keyLock {
	key := userID + "|" + endpoint
	g.mu.Lock()
	defer g.mu.Unlock()
	kl, ok := g.locks[key]
	if !ok {
		kl = &keyLock{}
		g.locks[key] = kl
	}
	kl.lastUsed = time.Now()
	return kl
}

// Check runs the sliding-window algorithm for one request. The window
// is pruned on every access; ResetAt derives from the oldest in-window
// timestamp so it reflects exactly when capacity frees up.
func (g *Guard) Check(ctx context.Context, userID, endpoint string) Result {
	limit := g.limitFor(endpoint)
	now := time.Now()

	mu := g.lockFor(userID, endpoint)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	rec, err := g.store.Get(sctx, userID, endpoint)
	if err != nil {
		g.failOpen(userID, endpoint, err)
		return Result{Allowed: true, Remaining: limit.MaxRequests, ResetAt: now.Add(limit.Window)}
	}
	if rec == nil {
		rec = &Record{UserID: userID, Endpoint: endpoint}
	}

	// Block timer still running: deny without touching the window.
	if !rec.BlockedUntil.IsZero() && rec.BlockedUntil.After(now) {
		obs.QuotaBlocked.Inc()
		return Result{
			Allowed:           false,
			ResetAt:           rec.BlockedUntil,
			RetryAfterSeconds: retryAfter(rec.BlockedUntil, now),
		}
	}

	rec.Requests = pruneWindow(rec.Requests, now.Add(-limit.Window))

	if len(rec.Requests) >= limit.MaxRequests {
		rec.BlockedUntil = now.Add(limit.BlockDuration)
		rec.UpdatedAt = now
		if err := g.store.Put(sctx, rec); err != nil {
			g.failOpen(userID, endpoint, err)
			return Result{Allowed: true, Remaining: 0, ResetAt: now.Add(limit.Window)}
		}
		obs.QuotaBlocked.Inc()
		return Result{
			Allowed:           false,
			ResetAt:           rec.BlockedUntil,
			RetryAfterSeconds: int(limit.BlockDuration / time.Second),
		}
	}

	rec.Requests = append(rec.Requests, now)
	rec.BlockedUntil = time.Time{}
	rec.UpdatedAt = now
	if err := g.store.Put(sctx, rec); err != nil {
		g.failOpen(userID, endpoint, err)
		return Result{Allowed: true, Remaining: limit.MaxRequests - len(rec.Requests), ResetAt: now.Add(limit.Window)}
	}

	return Result{
		Allowed:   true,
		Remaining: limit.MaxRequests - len(rec.Requests),
		ResetAt:   rec.Requests[0].Add(limit.Window),
	}
}

// Clear removes a user's record for one endpoint, or for every tracked
// endpoint when endpoint is empty. Operator override.
func (g *Guard) Clear(ctx context.Context, userID, endpoint string) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if endpoint != "" {
		mu := g.lockFor(userID, endpoint)
		mu.Lock()
		defer mu.Unlock()
		return g.store.Delete(sctx, userID, endpoint)
	}

	recs, err := g.store.ListByUser(sctx, userID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		mu := g.lockFor(userID, rec.Endpoint)
		mu.Lock()
		err := g.store.Delete(sctx, userID, rec.Endpoint)
		mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the current window occupancy for every endpoint the
// user has touched, without mutating any record.
func (g *Guard) Stats(ctx context.Context, userID string) ([]EndpointStats, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	recs, err := g.store.ListByUser(sctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]EndpointStats, 0, len(recs))
	for _, rec := range recs {
		limit := g.limitFor(rec.Endpoint)
		inWindow := 0
		cutoff := now.Add(-limit.Window)
		for _, ts := range rec.Requests {
			if ts.After(cutoff) {
				inWindow++
			}
		}
		stats := EndpointStats{
			Endpoint: rec.Endpoint,
			InWindow: inWindow,
			Limit:    limit.MaxRequests,
		}
		if rec.BlockedUntil.After(now) {
			stats.BlockedUntil = rec.BlockedUntil
		}
		out = append(out, stats)
	}
	return out, nil
}

// Cleanup evicts records whose newest activity is older than
// maxRecordAge, together with their serialization locks. Returns the
// number of store records evicted.
func (g *Guard) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-maxRecordAge)

	g.mu.Lock()
	for key, kl := range g.locks {
		if kl.lastUsed.Before(cutoff) {
			delete(g.locks, key)
		}
	}
	g.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return g.store.DeleteStale(sctx, cutoff)
}

func (g *Guard) failOpen(userID, endpoint string, err error) {
	obs.QuotaFailOpen.Inc()
	g.logger.Warn("quota store unavailable, admitting request",
		zap.String("user_id", userID),
		zap.String("endpoint", endpoint),
		zap.Error(err),
	)
}

// pruneWindow drops timestamps at or before the cutoff, keeping order.
func pruneWindow(requests []time.Time, cutoff time.Time) []time.Time {
	out := requests[:0]
	for _, ts := range requests {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}

func retryAfter(until, now time.Time) int {
	secs := int((until.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
