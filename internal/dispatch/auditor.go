package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/telemetry"
)

// UsageRecorder appends usage log entries.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, e model.UsageLogEntry) error
}

// AuditorOptions bounds the auditor. Zero values pick the defaults.
type AuditorOptions struct {
	// MaxInFlight caps concurrent writes to the recorder. Default 16.
	MaxInFlight int64
	// Timeout bounds one write, including the wait for a slot. Default 5s.
	Timeout time.Duration
}

// Auditor writes usage entries in the background. Each entry gets exactly
// one attempt; failures are logged and counted, never retried and never
// surfaced to the caller.
type Auditor struct {
	recorder UsageRecorder
	logger   *slog.Logger
	sem      *semaphore.Weighted
	timeout  time.Duration

	// pending counts scheduled writes. idle is closed and replaced each time
	// pending returns to zero, so Drain may run concurrently with Record.
	mu      sync.Mutex
	pending int
	idle    chan struct{}

	inFlight atomic.Int64
	failures metric.Int64Counter
}

// NewAuditor creates an Auditor writing to recorder.
func NewAuditor(recorder UsageRecorder, logger *slog.Logger, opts AuditorOptions) *Auditor {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	a := &Auditor{
		recorder: recorder,
		logger:   logger,
		sem:      semaphore.NewWeighted(opts.MaxInFlight),
		timeout:  opts.Timeout,
		idle:     make(chan struct{}),
	}

	meter := telemetry.Meter("kouba/audit")
	a.failures, _ = meter.Int64Counter("kouba.audit.failures",
		metric.WithDescription("Usage log writes that failed or timed out"),
	)
	_, _ = meter.Int64ObservableGauge("kouba.audit.in_flight",
		metric.WithDescription("Usage log writes waiting or running"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(a.inFlight.Load())
			return nil
		}),
	)
	return a
}

// Record schedules e for writing and returns immediately. ctx is only used
// for its values; cancellation of the call does not cancel the write.
func (a *Auditor) Record(ctx context.Context, e model.UsageLogEntry) {
	a.mu.Lock()
	a.pending++
	a.mu.Unlock()

	a.inFlight.Add(1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer a.done()
		defer a.inFlight.Add(-1)

		wctx, cancel := context.WithTimeout(detached, a.timeout)
		defer cancel()

		if err := a.sem.Acquire(wctx, 1); err != nil {
			a.fail(wctx, e, err)
			return
		}
		defer a.sem.Release(1)

		if err := a.recorder.RecordUsage(wctx, e); err != nil {
			a.fail(wctx, e, err)
		}
	}()
}

func (a *Auditor) fail(ctx context.Context, e model.UsageLogEntry, err error) {
	a.failures.Add(ctx, 1)
	a.logger.Warn("audit: usage log write failed",
		"tool", e.ToolName, "request_id", e.RequestID, "success", e.Success, "error", err)
}

func (a *Auditor) done() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending--
	if a.pending == 0 {
		close(a.idle)
		a.idle = make(chan struct{})
	}
}

// Drain waits until no writes are pending or ctx ends, whichever is first.
// It returns ctx.Err() if writes were still pending. Entries recorded while
// Drain waits are waited for too.
func (a *Auditor) Drain(ctx context.Context) error {
	a.mu.Lock()
	if a.pending == 0 {
		a.mu.Unlock()
		return nil
	}
	idle := a.idle
	a.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
