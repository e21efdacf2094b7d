package service

import (
	"context"
	"sync"
	"time"

	"contest-core/pkg/logger"
)

// PeriodicWorker runs a job on a ticker until stopped
type PeriodicWorker struct {
	name     string
	interval time.Duration
	job      func(ctx context.Context) error
	logger   *logger.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func newPeriodicWorker(name string, interval time.Duration, job func(ctx context.Context) error, log *logger.Logger) *PeriodicWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicWorker{
		name:     name,
		interval: interval,
		job:      job,
		logger:   log.WithField("worker", name),
	}
}

// NewLifecycleWorker applies schedule-driven contest transitions
func NewLifecycleWorker(lifecycle *LifecycleService, interval time.Duration, log *logger.Logger) *PeriodicWorker {
	return newPeriodicWorker("lifecycle", interval, func(ctx context.Context) error {
		changed, err := lifecycle.SyncAll(ctx)
		if err != nil {
			return err
		}
		if changed > 0 {
			log.WithField("changed", changed).Info("Contest statuses synced")
		}
		return nil
	}, log)
}

// NewExpiryWorker expires payment intents that were never captured
func NewExpiryWorker(payments *PaymentService, interval time.Duration, log *logger.Logger) *PeriodicWorker {
	return newPeriodicWorker("payment_expiry", interval, func(ctx context.Context) error {
		_, err := payments.ExpireStale(ctx)
		return err
	}, log)
}

// Start runs the job once and then on every tick
func (w *PeriodicWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	go w.loop(runCtx, w.done)

	w.logger.WithField("interval", w.interval.String()).Info("Worker started")
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return
func (w *PeriodicWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return nil
	}

	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.isRunning = false
	w.logger.Info("Worker stopped")
	return nil
}

func (w *PeriodicWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *PeriodicWorker) runOnce(ctx context.Context) {
	if err := w.job(ctx); err != nil && ctx.Err() == nil {
		w.logger.WithError(err).Error("Worker run failed")
	}
}
