package scheduler

import (
	"context"

	"github.com/smallbiznis/abcmetrics/internal/aggregation"
	syncsvc "github.com/smallbiznis/abcmetrics/internal/sync"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(
		func(s *syncsvc.Service) Syncer { return s },
		func(e *aggregation.Engine) Aggregator { return e },
	),
	fx.Provide(New),
)

// StartScheduler runs the tick loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
