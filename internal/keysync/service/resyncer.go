package service

import (
	"context"
	"log"
	"time"
)

// Resyncer periodically republishes snapshots for every access point still
// marked dirty, so best-effort publishes that failed (or were never
// attempted while the broker was down) eventually converge.  Runs as a
// background goroutine; safe to stop via its context or the Stop method.
//
// An interval of 0 disables the loop entirely.
type Resyncer struct {
	svc      *LedgerService
	interval time.Duration
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewResyncer creates a resyncer but does not start it.  Call Start to
// begin the background loop.
func NewResyncer(svc *LedgerService, interval time.Duration, logger *log.Logger) *Resyncer {
	return &Resyncer{
		svc:      svc,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the background loop.  It runs an immediate pass on startup
// to flush any backlog, then repeats on the configured interval.  The loop
// exits when ctx is cancelled or Stop is called.
func (r *Resyncer) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Printf("resyncer disabled (interval=0)")
		close(r.done)
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)

	go r.loop(ctx)

	r.logger.Printf("resyncer started (interval=%s)", r.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Resyncer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Resyncer) loop(ctx context.Context) {
	defer close(r.done)

	r.pass(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Resyncer) pass(ctx context.Context) {
	synced, err := r.svc.SyncDirty(ctx)
	if err != nil {
		r.logger.Printf("resync error: %v", err)
		return
	}
	if synced > 0 {
		r.logger.Printf("resync: republished %d access points", synced)
	}
}
