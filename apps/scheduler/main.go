package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/abcmetrics/internal/aggregation"
	"github.com/smallbiznis/abcmetrics/internal/clock"
	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/smallbiznis/abcmetrics/internal/elocal"
	"github.com/smallbiznis/abcmetrics/internal/ingest/writer"
	"github.com/smallbiznis/abcmetrics/internal/migration"
	"github.com/smallbiznis/abcmetrics/internal/observability"
	"github.com/smallbiznis/abcmetrics/internal/ratelimit"
	"github.com/smallbiznis/abcmetrics/internal/scheduler"
	syncsvc "github.com/smallbiznis/abcmetrics/internal/sync"
	"github.com/smallbiznis/abcmetrics/internal/workiz"
	"github.com/smallbiznis/abcmetrics/pkg/db"
	"go.uber.org/fx"
)

// Headless worker: same ingestion and rollup jobs, no HTTP surface.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		migration.Module,

		workiz.Module,
		elocal.Module,
		writer.Module,
		syncsvc.Module,
		aggregation.Module,
		scheduler.Module,

		fx.Invoke(scheduler.StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
