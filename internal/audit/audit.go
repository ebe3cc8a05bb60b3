package audit

import (
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/acalanto-app/sentinela/internal/obs"
	"github.com/acalanto-app/sentinela/internal/pii"
)

const (
	bufferSize    = 10_000
	flushInterval = 2 * time.Second
	flushBatch    = 100
	drainTimeout  = 5 * time.Second
	storeTimeout  = 5 * time.Second

	// maxPending bounds the retry queue when the store is down. Beyond
	// this the oldest entries are dropped and counted.
	maxPending = 5_000

	// DefaultRetention keeps audit entries for two years (LGPD data
	// lifecycle for health-adjacent records).
	DefaultRetention = 2 * 365 * 24 * time.Hour
)

// Record is the caller-facing input for one audit entry. The logger
// assigns the ID and timestamp and redacts Metadata before buffering.
type Record struct {
	ActionType   ActionType
	UserID       string
	Endpoint     string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
	Success      bool
	ErrorMessage string
	LatencyMs    float64
	Flags        []Flag
}

// Logger buffers audit entries and batch-inserts them in a background
// goroutine. Log() is non-blocking. Failed batches are re-queued and
// retried on the next flush; the retry queue is bounded, dropping
// oldest entries when full so a dead store cannot exhaust memory.
type Logger struct {
	store     Store
	logger    *zap.Logger
	retention time.Duration

	buffer  chan *Entry
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns

	dropped atomic.Uint64
	entropy *ulid.MonotonicEntropy
}

// New creates a Logger and starts the background flush loop.
func New(store Store, retention time.Duration, logger *zap.Logger) *Logger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	l := &Logger{
		store:     store,
		logger:    logger,
		retention: retention,
		buffer:    make(chan *Entry, bufferSize),
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
	go l.flushLoop()
	return l
}

// Log queues an audit entry for async insertion. Metadata is PII-redacted
// here, before the entry ever reaches the buffer or the store.
func (l *Logger) Log(rec Record) {
	now := time.Now().UTC()
	e := &Entry{
		ID:           ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		Timestamp:    now,
		UserID:       rec.UserID,
		ActionType:   rec.ActionType,
		Endpoint:     rec.Endpoint,
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		Success:      rec.Success,
		ErrorMessage: pii.Sanitize(rec.ErrorMessage),
		LatencyMs:    rec.LatencyMs,
		Flags:        rec.Flags,
	}
	if rec.Metadata != nil {
		e.Metadata = pii.RedactStructured(rec.Metadata).(map[string]any)
	}

	select {
	case l.buffer <- e:
	default:
		l.dropped.Add(1)
		obs.AuditDropped.Inc()
		l.logger.Warn("audit buffer full, dropping entry",
			zap.String("action_type", string(e.ActionType)),
		)
	}
}

// LogChatMessage records a screened chat message and the pipeline flags
// it picked up along the way.
func (l *Logger) LogChatMessage(userID, endpoint, ip, ua string, latencyMs float64, flags []Flag, meta map[string]any) {
	l.Log(Record{
		ActionType: ActionChatMessage,
		UserID:     userID,
		Endpoint:   endpoint,
		IPAddress:  ip,
		UserAgent:  ua,
		Metadata:   meta,
		Success:    true,
		LatencyMs:  latencyMs,
		Flags:      flags,
	})
}

// LogRiskDetected records an elevated risk finding. The metadata should
// carry level and score, never the message text.
func (l *Logger) LogRiskDetected(userID string, level string, score int, urgency string) {
	l.Log(Record{
		ActionType: ActionRiskDetected,
		UserID:     userID,
		Metadata: map[string]any{
			"level":   level,
			"score":   score,
			"urgency": urgency,
		},
		Success: true,
		Flags:   []Flag{FlagRiskDetected},
	})
}

// LogRateLimitHit records a denied request.
func (l *Logger) LogRateLimitHit(userID, endpoint string, retryAfterSeconds int) {
	l.Log(Record{
		ActionType: ActionRateLimitHit,
		UserID:     userID,
		Endpoint:   endpoint,
		Metadata: map[string]any{
			"retry_after_seconds": retryAfterSeconds,
		},
		Success: false,
		Flags:   []Flag{FlagRateLimited},
	})
}

// LogContentBlocked records a policy rejection.
func (l *Logger) LogContentBlocked(userID string, violationKinds []string) {
	l.Log(Record{
		ActionType: ActionContentBlocked,
		UserID:     userID,
		Metadata: map[string]any{
			"violations": violationKinds,
		},
		Success: false,
		Flags:   []Flag{FlagContentBlocked},
	})
}

// LogDataExport records a user data export.
func (l *Logger) LogDataExport(userID, ip string, success bool) {
	l.Log(Record{
		ActionType: ActionDataExport,
		UserID:     userID,
		IPAddress:  ip,
		Success:    success,
	})
}

// LogDataDelete records a user data deletion request.
func (l *Logger) LogDataDelete(userID, ip string, success bool) {
	l.Log(Record{
		ActionType: ActionDataDelete,
		UserID:     userID,
		IPAddress:  ip,
		Success:    success,
	})
}

// Dropped reports how many entries have been discarded since start,
// either by a full buffer or by the bounded retry queue.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// GetLogs returns the user's audit entries matching the filter, newest
// first. Reads go straight to the store; buffered entries not yet
// flushed are not visible.
func (l *Logger) GetLogs(ctx context.Context, userID string, f Filter) ([]*Entry, error) {
	return l.store.Query(ctx, userID, f)
}

// Stats aggregates a user's audit activity over a window.
type Stats struct {
	Total      int                `json:"total"`
	Failures   int                `json:"failures"`
	ByAction   map[ActionType]int `json:"by_action"`
	ByFlag     map[Flag]int       `json:"by_flag"`
	OldestSeen time.Time          `json:"oldest_seen,omitzero"`
	NewestSeen time.Time          `json:"newest_seen,omitzero"`
}

// GetStats computes aggregate counts for a user since the given time.
func (l *Logger) GetStats(ctx context.Context, userID string, since time.Time) (*Stats, error) {
	entries, err := l.store.Query(ctx, userID, Filter{Start: since})
	if err != nil {
		return nil, err
	}
	s := &Stats{
		ByAction: make(map[ActionType]int),
		ByFlag:   make(map[Flag]int),
	}
	for _, e := range entries {
		s.Total++
		if !e.Success {
			s.Failures++
		}
		s.ByAction[e.ActionType]++
		for _, fl := range e.Flags {
			s.ByFlag[fl]++
		}
		if s.OldestSeen.IsZero() || e.Timestamp.Before(s.OldestSeen) {
			s.OldestSeen = e.Timestamp
		}
		if e.Timestamp.After(s.NewestSeen) {
			s.NewestSeen = e.Timestamp
		}
	}
	return s, nil
}

// CleanupOldLogs deletes entries past the retention window and returns
// how many were removed.
func (l *Logger) CleanupOldLogs(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-l.retention)
	n, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	if n > 0 {
		l.logger.Info("audit retention cleanup",
			zap.Int("deleted", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

// ExportForCompliance renders all of a user's audit entries in the given
// format ("json" or "csv"), oldest first.
func (l *Logger) ExportForCompliance(ctx context.Context, userID, format string) (string, error) {
	entries, err := l.store.Query(ctx, userID, Filter{})
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	switch format {
	case "json":
		b, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case "csv":
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		_ = w.Write([]string{"id", "timestamp", "action_type", "endpoint", "success", "error_message", "latency_ms", "flags"})
		for _, e := range entries {
			flags := make([]string, len(e.Flags))
			for i, fl := range e.Flags {
				flags[i] = string(fl)
			}
			_ = w.Write([]string{
				e.ID,
				e.Timestamp.Format(time.RFC3339),
				string(e.ActionType),
				e.Endpoint,
				strconv.FormatBool(e.Success),
				e.ErrorMessage,
				strconv.FormatFloat(e.LatencyMs, 'f', -1, 64),
				strings.Join(flags, ";"),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", err
		}
		return sb.String(), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

// Close signals the flush loop to drain remaining entries, waits for it
// to finish, and returns. Safe to call once.
func (l *Logger) Close() {
	close(l.done)
	<-l.flushed
}

func (l *Logger) flushLoop() {
	defer close(l.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	// pending holds entries whose insert failed, in arrival order. They
	// go ahead of fresh entries on the next attempt.
	var pending []*Entry
	batch := make([]*Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 && len(pending) == 0 {
			return
		}
		toSend := append(pending, batch...)
		pending = nil
		batch = batch[:0]

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := l.store.InsertBatch(ctx, toSend)
		cancel()
		if err == nil {
			return
		}
		obs.AuditFlushFailures.Inc()
		l.logger.Error("audit batch insert failed, re-queueing",
			zap.Int("batch_size", len(toSend)),
			zap.Error(err),
		)
		pending = toSend
		if over := len(pending) - maxPending; over > 0 {
			pending = pending[over:]
			l.dropped.Add(uint64(over))
			obs.AuditDropped.Add(float64(over))
			l.logger.Warn("audit retry queue full, dropped oldest entries",
				zap.Int("dropped", over),
			)
		}
	}

	for {
		select {
		case e := <-l.buffer:
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case e := <-l.buffer:
					batch = append(batch, e)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			flush()
			if n := len(pending); n > 0 {
				l.dropped.Add(uint64(n))
				obs.AuditDropped.Add(float64(n))
				l.logger.Error("audit shutdown with unflushed entries",
					zap.Int("lost", n),
				)
			}
			return
		}
	}
}
