package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type idlePruner interface {
	PruneIdle(maxIdle time.Duration) int
}

type pruneTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) pruneTicker

// startFeedPruneWorker evicts idle feed sessions on a fixed interval. The
// returned stop function blocks until the worker has exited and is safe to
// call more than once.
func startFeedPruneWorker(ctx context.Context, logger *slog.Logger, feeds idlePruner, interval, maxIdle time.Duration) func() {
	return startFeedPruneWorkerWithTicker(ctx, logger, feeds, interval, maxIdle, func(d time.Duration) pruneTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startFeedPruneWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	feeds idlePruner,
	interval time.Duration,
	maxIdle time.Duration,
	newTicker tickerFactory,
) func() {
	if feeds == nil || interval <= 0 || maxIdle <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if pruned := feeds.PruneIdle(maxIdle); pruned > 0 && logger != nil {
					logger.Info("evicted idle feed sessions", "count", pruned)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
