// Package scheduler runs the periodic sync ticker. Overlap between ticks is
// prevented by the orchestrator's own lock, not here.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Task func(ctx context.Context) error

// Every runs task on a fixed interval until ctx is cancelled. When runNow is
// set the first run happens immediately rather than after one interval.
func Every(ctx context.Context, interval time.Duration, name string, runNow bool, task Task, log *zap.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	if runNow {
		if err := task(ctx); err != nil {
			log.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := task(ctx); err != nil {
				log.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
			}
		}
	}
}
