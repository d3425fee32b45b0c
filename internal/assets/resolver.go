package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EmeraldsHub/tft/internal/config"
	"github.com/EmeraldsHub/tft/internal/constants"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Local fallback icons served by the front end. These are the only
// non-absolute URLs the sanitizer lets through.
const (
	UnknownUnitIcon = "/icons/unknown-unit.png"
	UnknownItemIcon = "/icons/unknown-item.png"
	UnrankedIcon    = "/ranks/UNRANKED.png"
)

const rankedIconBase = "https://cdn.communitydragon.org/latest/tft/ranked-icons/"

// Resolver maps champion/item/trait identifiers to web-safe icon URLs.
// The backing catalog is loaded lazily from the static game-data mirror,
// cached process-wide with a TTL, and concurrent cold-cache loads collapse
// into a single in-flight fetch.
type Resolver struct {
	client       *fasthttp.Client
	dataBaseURL  string
	assetBaseURL string
	ttl          time.Duration
	logger       zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cat   *catalog

	now func() time.Time
}

type catalog struct {
	loadedAt  time.Time
	loadMs    int64
	champions map[string]championEntry
	items     map[string]string
	traits    map[string]string
}

type championEntry struct {
	SquareIconPath string `json:"squareIconPath"`
	TileIconPath   string `json:"tileIconPath"`
	IconPath       string `json:"iconPath"`
}

type championDoc struct {
	APIName       string `json:"apiName"`
	CharacterName string `json:"characterName"`
	championEntry
}

type itemDoc struct {
	APIName  string `json:"apiName"`
	IconPath string `json:"iconPath"`
}

type traitDoc struct {
	APIName  string `json:"apiName"`
	Name     string `json:"name"`
	IconPath string `json:"iconPath"`
}

func NewResolver(cfg *config.Config, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client: &fasthttp.Client{
			ReadTimeout:         constants.AssetFetchTimeout,
			WriteTimeout:        constants.AssetFetchTimeout,
			MaxIdleConnDuration: time.Minute,
		},
		dataBaseURL:  strings.TrimSuffix(cfg.CDragonDataBaseURL, "/"),
		assetBaseURL: cfg.CDragonAssetBaseURL,
		ttl:          constants.AssetCatalogTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// ChampionIconURL resolves a unit's square icon. Empty string means
// unresolvable; callers substitute their own placeholder.
func (r *Resolver) ChampionIconURL(ctx context.Context, characterID string) string {
	id := strings.TrimSpace(characterID)
	if id == "" {
		return ""
	}
	cat := r.load(ctx)
	champ, ok := cat.champions[strings.ToLower(id)]
	if !ok {
		return ""
	}
	path := champ.SquareIconPath
	if path == "" {
		path = champ.TileIconPath
	}
	if path == "" {
		path = champ.IconPath
	}
	return SanitizeIconURL(r.assetURL(path))
}

func (r *Resolver) ItemIconURL(ctx context.Context, apiName string) string {
	id := strings.TrimSpace(apiName)
	if id == "" {
		return ""
	}
	cat := r.load(ctx)
	path, ok := cat.items[strings.ToLower(id)]
	if !ok {
		return ""
	}
	return SanitizeIconURL(r.assetURL(path))
}

func (r *Resolver) TraitIconURL(ctx context.Context, name string) string {
	id := strings.TrimSpace(name)
	if id == "" {
		return ""
	}
	cat := r.load(ctx)
	path, ok := cat.traits[strings.ToLower(id)]
	if !ok {
		return ""
	}
	return SanitizeIconURL(r.assetURL(path))
}

// RankIconURL maps a ranked tier to its CDN emblem.
func RankIconURL(tier string) string {
	if tier == "" {
		return ""
	}
	return rankedIconBase + strings.ToLower(tier) + ".png"
}

// SanitizeIconURL is the authoritative final gate on every icon URL the
// system hands out. It rejects anything still naming a texture format and
// accepts only approved raster extensions or the known local fallbacks.
// Idempotent and side-effect-free.
func SanitizeIconURL(url string) string {
	if url == "" {
		return ""
	}
	lower := strings.ToLower(url)
	if strings.Contains(lower, ".tex") {
		return ""
	}
	switch url {
	case UnknownUnitIcon, UnknownItemIcon, UnrankedIcon:
		return url
	}
	if strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".webp") {
		return url
	}
	return ""
}

// Invalidate drops the loaded catalog so the next lookup reloads it.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cat = nil
	r.mu.Unlock()
}

// Info reports catalog load metadata, nil before the first load.
func (r *Resolver) Info() (loadedAt time.Time, loadMs int64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cat == nil {
		return time.Time{}, 0, false
	}
	return r.cat.loadedAt, r.cat.loadMs, true
}

var emptyCatalog = &catalog{
	champions: map[string]championEntry{},
	items:     map[string]string{},
	traits:    map[string]string{},
}

func (r *Resolver) load(ctx context.Context) *catalog {
	r.mu.RLock()
	cat := r.cat
	r.mu.RUnlock()
	if cat != nil && r.now().Sub(cat.loadedAt) < r.ttl {
		return cat
	}

	// singleflight clears the in-flight marker on completion either way,
	// so a failed load never wedges future attempts.
	v, err, _ := r.group.Do("catalog", func() (any, error) {
		return r.fetchCatalog(ctx)
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("asset catalog load failed")
		return emptyCatalog
	}
	return v.(*catalog)
}

func (r *Resolver) fetchCatalog(ctx context.Context) (*catalog, error) {
	started := r.now()

	var champs []championDoc
	var items []itemDoc
	var traits []traitDoc

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.fetchDoc(gCtx, "/tftchampions.json", &champs) })
	g.Go(func() error { return r.fetchDoc(gCtx, "/tftitems.json", &items) })
	g.Go(func() error { return r.fetchDoc(gCtx, "/tfttraits.json", &traits) })

	// Individual document failures are tolerated; the incompleteness
	// repair on the preview read path picks up entries that appear later.
	loadErr := g.Wait()

	cat := &catalog{
		loadedAt:  r.now(),
		champions: make(map[string]championEntry, len(champs)),
		items:     make(map[string]string, len(items)),
		traits:    make(map[string]string, len(traits)),
	}
	for _, c := range champs {
		name := c.APIName
		if name == "" {
			name = c.CharacterName
		}
		if name == "" {
			continue
		}
		cat.champions[strings.ToLower(name)] = c.championEntry
	}
	for _, it := range items {
		if it.APIName == "" {
			continue
		}
		cat.items[strings.ToLower(it.APIName)] = it.IconPath
	}
	for _, tr := range traits {
		if tr.APIName != "" {
			cat.traits[strings.ToLower(tr.APIName)] = tr.IconPath
		}
		if tr.Name != "" {
			cat.traits[strings.ToLower(tr.Name)] = tr.IconPath
		}
	}
	cat.loadMs = r.now().Sub(started).Milliseconds()

	if len(cat.champions) == 0 && len(cat.items) == 0 && len(cat.traits) == 0 {
		// Nothing loaded: hand back an empty catalog without caching it
		// so the next lookup retries.
		if loadErr != nil {
			return nil, loadErr
		}
		return emptyCatalog, nil
	}

	r.mu.Lock()
	r.cat = cat
	r.mu.Unlock()

	r.logger.Info().
		Int("champions", len(cat.champions)).
		Int("items", len(cat.items)).
		Int("traits", len(cat.traits)).
		Int64("load_ms", cat.loadMs).
		Msg("asset catalog loaded")

	return cat, nil
}

func (r *Resolver) fetchDoc(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.dataBaseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline := time.Now().Add(constants.AssetFetchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("fetch %s: status %d", path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// assetURL normalizes a raw catalog icon path into an absolute asset URL:
// lowercase, strip the game-data prefix, require the assets/ root, and
// rewrite texture extensions to a web-safe raster one.
func (r *Resolver) assetURL(path string) string {
	p := strings.ToLower(strings.TrimSpace(path))
	if p == "" {
		return ""
	}
	p = strings.TrimPrefix(p, "/")
	if strings.HasPrefix(p, "lol-game-data/assets/") {
		p = strings.TrimPrefix(p, "lol-game-data/")
	}
	if !strings.HasPrefix(p, "assets/") {
		return ""
	}
	if strings.HasSuffix(p, ".tex") {
		p = strings.TrimSuffix(p, ".tex") + ".png"
	}
	return r.assetBaseURL + p
}
