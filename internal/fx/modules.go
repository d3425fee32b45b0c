package fx

import (
	"github.com/EmeraldsHub/tft/internal/assets"
	"github.com/EmeraldsHub/tft/internal/config"
	"github.com/EmeraldsHub/tft/internal/database"
	"github.com/EmeraldsHub/tft/internal/logger"
	"github.com/EmeraldsHub/tft/internal/repository"
	"github.com/EmeraldsHub/tft/internal/riot"
	"github.com/EmeraldsHub/tft/internal/server"
	"github.com/EmeraldsHub/tft/internal/service"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewTrackedPlayerRepository),
	fx.Provide(repository.NewMatchCacheRepository),
	fx.Provide(repository.NewJobLockRepository),
	// upstream clients
	fx.Provide(riot.NewClient),
	fx.Provide(assets.NewResolver),
	// svc
	fx.Provide(service.NewCaches),
	fx.Provide(service.NewPreviewService),
	fx.Provide(service.NewPlayerService),
	fx.Provide(service.NewSyncService),
	fx.Provide(service.NewLeaderboardService),
	// server
	fx.Provide(server.New),
)
