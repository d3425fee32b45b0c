package constants

import "time"

// Freshness windows for the per-player derived facts. Each group is
// independently refreshable; staleness of one never blocks the others.
const (
	RankedTTL       = 60 * time.Second
	LiveTTL         = 45 * time.Second
	AvgPlacementTTL = 15 * time.Minute
)

const (
	LiveGameClientTTL   = 30 * time.Second
	AssetCatalogTTL     = 6 * time.Hour
	PlayerCacheTTL      = 30 * time.Second
	PlayerRefreshTTL    = 5 * time.Minute
	LeaderboardCacheTTL = 60 * time.Second
)

const (
	ExternalAPITimeout = 8 * time.Second
	AssetFetchTimeout  = 5 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
	MaxRiotAttempts    = 3
	RetryBackoffStep   = 500 * time.Millisecond
)

const (
	PreviewFetchConcurrency    = 2
	LeaderboardSyncConcurrency = 5
	BatchSyncLimit             = 10
	BatchSyncPause             = 200 * time.Millisecond
	SyncAllLockName            = "sync_all"
	SyncAllLockTTL             = 2 * time.Minute
)

const (
	MatchPreviewLimit     = 10
	RecentMatchCount      = 10
	TopTraitLimit         = 5
	SearchSuggestionLimit = 8
)

// RankedQueueID is the upstream queue id for the main ranked ladder.
const RankedQueueID = 1100

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

// SupportedPlatform is the only gameplay shard the roster accepts for now.
const SupportedPlatform = "EUW1"
