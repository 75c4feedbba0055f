package migration

import (
	"context"

	"github.com/smallbiznis/abcmetrics/internal/clock"
	"github.com/smallbiznis/abcmetrics/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, clk clock.Clock, log *zap.Logger) error {
		ctx := context.Background()
		log = log.Named("migration")

		if err := Apply(ctx, conn, log); err != nil {
			return err
		}

		added, err := seed.EnsureDates(ctx, conn, clk.Now())
		if err != nil {
			return err
		}
		log.Info("date dimension ensured", zap.Int64("added", added))
		return nil
	}),
)
