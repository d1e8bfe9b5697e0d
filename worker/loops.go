package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/statefulrouter/statefulrouter/rpc"
)

// RunControlLoops starts the worker's independent periodic tasks (heartbeat,
// eviction batch, full sync, and the simulated clock tick) and blocks until
// ctx is canceled. Each runs on its own goroutine and ticker, logging and
// continuing on failure rather than propagating it — a single slow or
// failing push to the router should never stall the others.
func RunControlLoops(ctx context.Context, w *Worker, client *rpc.Client, cfg Config, tickInterval time.Duration, selfURL string) {
	done := make(chan struct{}, 4)

	go func() {
		heartbeatLoop(ctx, w, client, cfg.HeartbeatInterval, selfURL)
		done <- struct{}{}
	}()
	go func() {
		evictionLoop(ctx, w, client, cfg.EvictionInterval)
		done <- struct{}{}
	}()
	go func() {
		syncLoop(ctx, w, client, cfg.SyncInterval)
		done <- struct{}{}
	}()
	go func() {
		tickLoop(ctx, w, tickInterval)
		done <- struct{}{}
	}()

	for i := 0; i < 4; i++ {
		<-done
	}
}

func heartbeatLoop(ctx context.Context, w *Worker, client *rpc.Client, interval time.Duration, selfURL string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx, w.Load(), selfURL); err != nil {
				logrus.Warnf("[worker %s] heartbeat error: %v", w.ID, err)
			}
		}
	}
}

func evictionLoop(ctx context.Context, w *Worker, client *rpc.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hashes := w.DrainEvicted()
			if len(hashes) == 0 {
				continue
			}
			if err := client.ReportEviction(ctx, hashes); err != nil {
				logrus.Warnf("[worker %s] eviction report error: %v", w.ID, err)
			}
		}
	}
}

func syncLoop(ctx context.Context, w *Worker, client *rpc.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.ReportSync(ctx, w.ActiveHashes()); err != nil {
				logrus.Warnf("[worker %s] sync error: %v", w.ID, err)
			}
		}
	}
}

// tickLoop advances every in-flight Task's simulated clock. Unlike the other
// three loops it has no router-facing signal — it's the local mechanism that
// makes tasks actually progress in the absence of a real inference engine.
func tickLoop(ctx context.Context, w *Worker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(interval.Milliseconds())
		}
	}
}
