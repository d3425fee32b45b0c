package domain

import (
	"time"
)

// TrackedPlayer is a roster entry under observation. The three cached fact
// groups (ranked, average placement, live status) each carry their own
// freshness timestamp and are refreshed independently.
type TrackedPlayer struct {
	ID              string `json:"id"` // nanoid
	RiotID          string `json:"riot_id"` // "name#tag"
	Region          string `json:"region"`
	Slug            string `json:"slug"`
	PUUID           string `json:"puuid,omitempty"`
	SummonerID      string `json:"summoner_id,omitempty"` // legacy, optional
	IsActive        bool   `json:"is_active"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`

	RankedTier      string     `json:"ranked_tier,omitempty"`
	RankedRank      string     `json:"ranked_rank,omitempty"`
	RankedLP        *int       `json:"ranked_lp,omitempty"`
	RankedQueue     string     `json:"ranked_queue,omitempty"`
	RankedUpdatedAt *time.Time `json:"ranked_updated_at,omitempty"`

	AvgPlacement          *float64   `json:"avg_placement_10,omitempty"`
	AvgPlacementUpdatedAt *time.Time `json:"avg_placement_updated_at,omitempty"`

	LiveInGame        bool       `json:"live_in_game"`
	LiveGameStartTime *int64     `json:"live_game_start_time,omitempty"`
	LiveUpdatedAt     *time.Time `json:"live_updated_at,omitempty"`

	RiotDataUpdatedAt *time.Time `json:"riot_data_updated_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// MatchCacheEntry is a cached raw match payload plus the per-participant
// previews derived from it. The raw payload is immutable once stored;
// previews are patched in place as icon resolution improves.
type MatchCacheEntry struct {
	MatchID      string
	Region       string
	GameDatetime time.Time
	QueueID      *int
	Data         *MatchPayload
	Previews     map[string]*Preview
	FetchedAt    time.Time
}

// Preview reasons, attached when a preview could not be built normally.
const (
	ReasonPlayerNotFound = "PLAYER_NOT_FOUND"
	ReasonFallbackTop1   = "no_puuid_match_fallback_top1"
	ReasonNoUnits        = "no_units_in_match"
)

// Preview is a compact, render-ready summary of one participant's board.
type Preview struct {
	PUUID     string        `json:"puuid"`
	GameName  string        `json:"riotIdGameName,omitempty"`
	TagLine   string        `json:"riotIdTagline,omitempty"`
	Placement *int          `json:"placement"`
	Level     *int          `json:"level,omitempty"`
	Units     []PreviewUnit `json:"units"`
	Traits    []Trait       `json:"traits"`
	TopTraits []TopTrait    `json:"topTraits,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

type PreviewUnit struct {
	CharacterID  string   `json:"character_id"`
	Tier         int      `json:"tier"`
	ItemNames    []string `json:"itemNames"`
	ChampIconURL string   `json:"champIconUrl"`
	ItemIconURLs []string `json:"itemIconUrls"`
}

type Trait struct {
	Name        string `json:"name"`
	NumUnits    int    `json:"num_units"`
	Style       int    `json:"style"`
	TierCurrent int    `json:"tier_current"`
	TierTotal   int    `json:"tier_total"`
}

type TopTrait struct {
	Name     string `json:"name"`
	NumUnits int    `json:"num_units"`
	Style    int    `json:"style"`
	IconURL  string `json:"iconUrl,omitempty"`
}

type RankedInfo struct {
	Tier         string `json:"tier"`
	Rank         string `json:"rank"`
	LeaguePoints int    `json:"leaguePoints"`
}

// FactStatus distinguishes "already fresh" from "refreshed" from "could
// not refresh" for each derived fact of a sync.
type FactStatus string

const (
	StatusCached  FactStatus = "cached"
	StatusUpdated FactStatus = "updated"
	StatusSkipped FactStatus = "skipped"
)

type RankedResult struct {
	Ranked      *RankedInfo `json:"ranked"`
	RankIconURL string      `json:"rankIconUrl,omitempty"`
	RankedQueue string      `json:"rankedQueue,omitempty"`
	Status      FactStatus  `json:"status"`
}

type LiveGameStatus struct {
	InGame           bool   `json:"inGame"`
	GameStartTime    *int64 `json:"gameStartTime"`
	ParticipantCount *int   `json:"participantCount"`
}

type LiveResult struct {
	LiveGameStatus
	Status FactStatus `json:"status"`
}

// MatchDetail is the enriched view of a single cached match, participants
// sorted by placement.
type MatchDetail struct {
	MatchID      string     `json:"matchId"`
	Cached       bool       `json:"cached"`
	GameDatetime *int64     `json:"gameDatetime"`
	QueueID      *int       `json:"queueId"`
	Participants []*Preview `json:"participants"`
}

type MatchSummary struct {
	MatchID       string   `json:"matchId"`
	Placement     *int     `json:"placement"`
	GameStartTime *int64   `json:"gameStartTime"`
	GameDateTime  *int64   `json:"gameDateTime"`
	Preview       *Preview `json:"preview,omitempty"`
}

type SyncStatuses struct {
	Ranked       FactStatus `json:"ranked"`
	Live         FactStatus `json:"live"`
	AvgPlacement FactStatus `json:"avgPlacement"`
}

type SyncResult struct {
	Updated      bool            `json:"updated"`
	Warning      string          `json:"warning,omitempty"`
	Ranked       *RankedInfo     `json:"ranked,omitempty"`
	Live         *LiveGameStatus `json:"live,omitempty"`
	AvgPlacement *float64        `json:"avgPlacement,omitempty"`
	Statuses     *SyncStatuses   `json:"statuses,omitempty"`
}

// FavoriteUnit and friends are aggregated over a player's cached ranked
// matches for the profile page.
type FavoriteUnit struct {
	CharacterID string `json:"character_id"`
	IconURL     string `json:"iconUrl,omitempty"`
	Count       int    `json:"count"`
}

type FavoriteItem struct {
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
	Count   int    `json:"count"`
}

type FavoriteTrait struct {
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
	Count   int    `json:"count"`
}

type Favorites struct {
	Unit   *FavoriteUnit   `json:"unit,omitempty"`
	Items  []FavoriteItem  `json:"items,omitempty"`
	Traits []FavoriteTrait `json:"traits,omitempty"`
}

// ProfileView is the full payload behind a player profile page.
type ProfileView struct {
	Player        *TrackedPlayer `json:"player"`
	Ranked        *RankedResult  `json:"ranked,omitempty"`
	Live          *LiveResult    `json:"live,omitempty"`
	AvgPlacement  *float64       `json:"avgPlacement"`
	RecentMatches []MatchSummary `json:"recentMatches"`
	Favorites     *Favorites     `json:"favorites,omitempty"`
	Cached        bool           `json:"cached"`
}

type LeaderboardEntry struct {
	ID              string   `json:"id"`
	RiotID          string   `json:"riot_id"`
	Slug            string   `json:"slug"`
	ProfileImageURL string   `json:"profile_image_url,omitempty"`
	Tier            string   `json:"tier,omitempty"`
	Rank            string   `json:"rank,omitempty"`
	LeaguePoints    *int     `json:"leaguePoints,omitempty"`
	RankIconURL     string   `json:"rankIconUrl,omitempty"`
	AvgPlacement    *float64 `json:"avgPlacement,omitempty"`
	LiveInGame      bool     `json:"liveInGame"`
}

// BatchSyncResult reports a cron or admin batch run per player.
type BatchSyncResult struct {
	Ran     bool                   `json:"ran"`
	Reason  string                 `json:"reason,omitempty"`
	Results map[string]*SyncResult `json:"results,omitempty"`
}

// Riot wire types. Only the fields the service reads are modelled.

type RiotAccount struct {
	PUUID    string `json:"puuid"`
	GameName string `json:"gameName"`
	TagLine  string `json:"tagLine"`
}

type RiotSummoner struct {
	ID    string `json:"id"`
	PUUID string `json:"puuid"`
	Name  string `json:"name"`
}

type LeagueEntry struct {
	QueueType    string `json:"queueType"`
	Tier         string `json:"tier"`
	Rank         string `json:"rank"`
	LeaguePoints int    `json:"leaguePoints"`
}

type MatchPayload struct {
	Info *MatchInfo `json:"info,omitempty"`
}

type MatchInfo struct {
	Participants  []MatchParticipant `json:"participants,omitempty"`
	GameDatetime  *int64             `json:"game_datetime,omitempty"`
	GameStartTime *int64             `json:"game_start_time,omitempty"`
	QueueID       *int               `json:"queue_id,omitempty"`
}

type MatchParticipant struct {
	PUUID     string             `json:"puuid"`
	GameName  string             `json:"riotIdGameName,omitempty"`
	TagLine   string             `json:"riotIdTagline,omitempty"`
	Placement *int               `json:"placement,omitempty"`
	Level     *int               `json:"level,omitempty"`
	Units     []ParticipantUnit  `json:"units,omitempty"`
	Traits    []ParticipantTrait `json:"traits,omitempty"`
}

type ParticipantUnit struct {
	CharacterID string   `json:"character_id"`
	Tier        int      `json:"tier"`
	ItemNames   []string `json:"itemNames"`
}

type ParticipantTrait struct {
	Name        string `json:"name"`
	NumUnits    int    `json:"num_units"`
	Style       int    `json:"style"`
	TierCurrent int    `json:"tier_current"`
	TierTotal   int    `json:"tier_total"`
}

type LiveGame struct {
	GameStartTime *int64 `json:"gameStartTime,omitempty"`
	Participants  []any  `json:"participants,omitempty"`
}
