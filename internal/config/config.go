package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	// RiotAPIKey may be empty. Every upstream call degrades to a
	// "not available" result when it is, the service still boots.
	RiotAPIKey    string
	DBPath        string
	ServerPort    string
	LogLevel      string
	AdminPassword string
	CronSecret    string

	// Base URLs are configurable so tests can point the client and the
	// asset resolver at local fake servers.
	RiotRegionalBaseURL string
	RiotPlatformBaseURL string
	CDragonDataBaseURL  string
	CDragonAssetBaseURL string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		RiotAPIKey:          getEnv("RIOT_API_KEY", ""),
		DBPath:              getEnv("DB_PATH", "tft.db"),
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
		CronSecret:          getEnv("CRON_SECRET", ""),
		RiotRegionalBaseURL: getEnv("RIOT_REGIONAL_BASE_URL", "https://europe.api.riotgames.com"),
		RiotPlatformBaseURL: getEnv("RIOT_PLATFORM_BASE_URL", "https://euw1.api.riotgames.com"),
		CDragonDataBaseURL:  getEnv("CDRAGON_DATA_BASE_URL", "https://raw.communitydragon.org/latest/plugins/rcp-be-lol-game-data/global/default/v1"),
		CDragonAssetBaseURL: getEnv("CDRAGON_ASSET_BASE_URL", "https://raw.communitydragon.org/latest/plugins/rcp-be-lol-game-data/global/default/"),
	}

	if cfg.RiotAPIKey == "" {
		logger.Warn().Msg("RIOT_API_KEY not set, upstream lookups will be unavailable")
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Bool("riot_api_key", cfg.RiotAPIKey != "").
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
