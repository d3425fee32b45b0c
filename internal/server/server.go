package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/EmeraldsHub/tft/internal/config"
	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/EmeraldsHub/tft/internal/middleware"
	"github.com/EmeraldsHub/tft/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg      *config.Config
	players  *service.PlayerService
	previews *service.PreviewService
	sync     *service.SyncService
	board    *service.LeaderboardService
	logger   zerolog.Logger
}

func New(
	cfg *config.Config,
	players *service.PlayerService,
	previews *service.PreviewService,
	syncSvc *service.SyncService,
	board *service.LeaderboardService,
	logger zerolog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		players:  players,
		previews: previews,
		sync:     syncSvc,
		board:    board,
		logger:   logger,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/player/{slug}", s.handlePlayerProfile)
		r.Get("/match/{matchId}", s.handleMatch)
		r.Post("/match/previews", s.handleMatchPreviews)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.handleAdminLogin)
			r.Post("/logout", s.handleAdminLogout)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(s.cfg.AdminPassword, s.logger))
				r.Get("/tracked-players", s.handleListPlayers)
				r.Post("/tracked-players", s.handleCreatePlayer)
				r.Patch("/tracked-players/{id}", s.handleUpdatePlayer)
				r.Delete("/tracked-players/{id}", s.handleDeletePlayer)
				r.Post("/sync-player", s.handleSyncPlayer)
				r.Post("/sync-players", s.handleSyncPlayers)
				r.Post("/sync-leaderboard", s.handleSyncLeaderboard)
				r.Post("/invalidate-cache", s.handleInvalidateCache)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.CronAuth(s.cfg.CronSecret, s.logger))
				r.Post("/cron/sync-all", s.handleSyncAll)
			})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	players, err := s.players.SearchPlayers(r.Context(), query)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("search failed")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if players == nil {
		players = []domain.TrackedPlayer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": players})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.board.Leaderboard(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("leaderboard failed")
		writeError(w, http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": entries})
}

func (s *Server) handlePlayerProfile(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	refresh := r.URL.Query().Get("refresh") == "1" && s.isAdmin(r)

	view, err := s.players.ProfileBySlug(r.Context(), slug, refresh)
	if err != nil {
		if errors.Is(err, service.ErrPlayerNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		s.logger.Error().Err(err).Str("slug", slug).Msg("profile failed")
		writeError(w, http.StatusInternalServerError, "profile unavailable")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchId")
	detail, err := s.previews.GetOrFetchMatch(r.Context(), matchID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMatchID):
			writeError(w, http.StatusBadRequest, "invalid_payload")
		case errors.Is(err, service.ErrUpstreamUnavailable):
			writeError(w, http.StatusBadGateway, "upstream unavailable")
		default:
			s.logger.Error().Err(err).Str("match_id", matchID).Msg("match lookup failed")
			writeError(w, http.StatusInternalServerError, "match unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type previewsRequest struct {
	PUUID    string   `json:"puuid"`
	MatchIDs []string `json:"matchIds"`
	Region   string   `json:"region"`
	Platform string   `json:"platform"`
	Routing  string   `json:"routingRegion"`
}

// regionHint accepts the hint under any of the names clients send.
func (r previewsRequest) regionHint() string {
	for _, v := range []string{r.Region, r.Platform, r.Routing} {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// handleMatchPreviews never fails per-match: only a malformed body yields
// invalid_payload with an empty map.
func (s *Server) handleMatchPreviews(w http.ResponseWriter, r *http.Request) {
	var req previewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PUUID == "" || len(req.MatchIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "invalid_payload",
			"previews": map[string]any{},
		})
		return
	}
	previews := s.previews.PreviewsForPlayer(r.Context(), req.PUUID, req.MatchIDs, req.regionHint())
	writeJSON(w, http.StatusOK, map[string]any{"previews": previews})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if s.cfg.AdminPassword == "" ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AdminPassword)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    "authenticated",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) isAdmin(r *http.Request) bool {
	if s.cfg.AdminPassword == "" {
		return false
	}
	cookie, err := r.Cookie(middleware.AdminSessionCookie)
	return err == nil && cookie.Value == "authenticated"
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.players.ListTrackedPlayers(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list players failed")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if players == nil {
		players = []domain.TrackedPlayer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}

type createPlayerRequest struct {
	RiotID          string `json:"riot_id"`
	Region          string `json:"region"`
	ProfileImageURL string `json:"profile_image_url"`
}

func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req createPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RiotID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	player, warning, err := s.players.CreateTrackedPlayer(r.Context(), req.RiotID, req.Region, req.ProfileImageURL)
	if err != nil {
		s.logger.Error().Err(err).Str("riot_id", req.RiotID).Msg("create player failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"player": player, "warning": warning})
}

func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch service.UpdatePlayerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	player, warning, err := s.players.UpdateTrackedPlayer(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, service.ErrPlayerNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"player": player, "warning": warning})
}

func (s *Server) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.players.DeleteTrackedPlayer(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrPlayerNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		s.logger.Error().Err(err).Str("id", id).Msg("delete player failed")
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type syncPlayerRequest struct {
	ID    string `json:"id"`
	Force bool   `json:"force"`
}

func (s *Server) handleSyncPlayer(w http.ResponseWriter, r *http.Request) {
	var req syncPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	result, err := s.sync.SyncPlayerByID(r.Context(), req.ID, req.Force)
	if err != nil {
		if errors.Is(err, service.ErrPlayerNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		s.logger.Error().Err(err).Str("id", req.ID).Msg("sync failed")
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type syncPlayersRequest struct {
	IDs   []string `json:"ids"`
	Force bool     `json:"force"`
}

func (s *Server) handleSyncPlayers(w http.ResponseWriter, r *http.Request) {
	var req syncPlayersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	results := s.sync.SyncBatch(r.Context(), req.IDs, req.Force)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleSyncLeaderboard(w http.ResponseWriter, r *http.Request) {
	count, err := s.sync.SyncLeaderboard(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("leaderboard sync failed")
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": count})
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	s.players.InvalidateCaches()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.sync.SyncAll(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("sync_all failed")
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
