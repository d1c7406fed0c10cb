package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiergate/internal/clock"
	"github.com/smallbiznis/tiergate/internal/config"
	"github.com/smallbiznis/tiergate/internal/entitlement"
	"github.com/smallbiznis/tiergate/internal/logger"
	"github.com/smallbiznis/tiergate/internal/migration"
	"github.com/smallbiznis/tiergate/internal/notifier"
	"github.com/smallbiznis/tiergate/internal/rating"
	"github.com/smallbiznis/tiergate/internal/scheduler"
	"github.com/smallbiznis/tiergate/internal/subscription"
	"github.com/smallbiznis/tiergate/internal/tier"
	"github.com/smallbiznis/tiergate/internal/usage"
	"github.com/smallbiznis/tiergate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		tier.Module,
		rating.Module,
		notifier.Module,
		subscription.Module,
		usage.Module,
		entitlement.Module,
		scheduler.Module,

		fx.Invoke(scheduler.StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
