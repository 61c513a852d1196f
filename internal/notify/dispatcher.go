package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	notifySentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_sent_total",
		Help: "Total number of successfully delivered notifications.",
	})
	notifyFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_fail_total",
		Help: "Total number of notifications dropped after exhausting retries.",
	})
	notifyLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_lag_seconds",
		Help: "Age of the oldest notification in the last delivered batch.",
	})
)

// DispatcherConfig defines tunables for the dispatcher.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
}

// Dispatcher drains the queue and pushes notifications through the
// sender.
type Dispatcher struct {
	queue  Queue
	sender Sender
	logger *zap.Logger
	cfg    DispatcherConfig
	tracer trace.Tracer
}

// NewDispatcher constructs a dispatcher with defaults applied.
func NewDispatcher(queue Queue, sender Sender, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  queue,
		sender: sender,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("roadassist.notify.dispatcher"),
	}
}

// Run polls the queue until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.queue == nil || d.sender == nil {
		return errors.New("dispatcher requires a queue and a sender")
	}
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("notification batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes a single batch. Delivery failures after retries abort
// the batch; already delivered rows are still marked so nothing is sent
// twice.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "notify.batch")
	defer span.End()

	pending, err := d.queue.LoadPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("load pending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	delivered := make([]int64, 0, len(pending))
	maxLag := 0.0
	var sendErr error
	for _, p := range pending {
		if err := d.sendWithRetry(ctx, p); err != nil {
			sendErr = err
			break
		}
		delivered = append(delivered, p.ID)
		notifySentTotal.Inc()
		if lag := time.Since(p.CreatedAt).Seconds(); lag > maxLag {
			maxLag = lag
		}
	}
	notifyLagSeconds.Set(maxLag)
	if err := d.queue.MarkSent(ctx, delivered); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return sendErr
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, p Pending) error {
	ctx, span := d.tracer.Start(ctx, "notify.send")
	defer span.End()

	var attempt int
	for {
		attempt++
		err := d.sender.Send(ctx, p.Notification)
		if err == nil {
			return nil
		}
		d.logger.Warn("notification send failed",
			zap.Error(err), zap.Int("attempt", attempt), zap.Int64("queue_id", p.ID))
		if attempt >= d.cfg.RetryMax {
			notifyFailTotal.Inc()
			return fmt.Errorf("send notification %d: %w", p.ID, err)
		}
		backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
