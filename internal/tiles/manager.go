// Package tiles keeps map tiles on disk so the map can render offline.
package tiles

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/briangreenhill/bperks/cache"
)

const (
	DefaultTTL         = 7 * 24 * time.Hour
	DefaultTemplate    = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultConcurrency = 4
	DefaultRate        = 8 // requests per second
	DefaultMaxTiles    = 5000
	MaxZoom            = 19

	fetchTimeout = 20 * time.Second
	userAgent    = "bperks-tilecache/1.0"
)

var (
	ErrZoomRange    = errors.New("tiles: invalid zoom range")
	ErrTooManyTiles = errors.New("tiles: area too large")
)

// DefaultSubdomains are rotated across requests.
var DefaultSubdomains = []string{"a", "b", "c"}

// Stats describes what is in the tile cache.
type Stats struct {
	TileCount int   `json:"tileCount"`
	SizeBytes int64 `json:"sizeBytes"`
}

// Summary reports the outcome of a prefetch. FromCache counts stored tiles
// that came from the response cache, either still fresh or revalidated with
// a 304 instead of downloaded again.
type Summary struct {
	Requested int `json:"requested"`
	Stored    int `json:"stored"`
	Failed    int `json:"failed"`
	FromCache int `json:"fromCache"`
}

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	Template    string
	Subdomains  []string
	TTL         time.Duration
	Concurrency int
	Rate        float64
	MaxTiles    int
	HTTPClient  *http.Client
	Logger      zerolog.Logger
	Now         func() time.Time

	// Responses keeps tile server responses and their validators. When set,
	// refetching a tile sends If-None-Match / If-Modified-Since.
	Responses cache.Store
}

// Manager downloads tiles and serves them back from a cache namespace.
//
// Each entry is stored under its resolved URL as an 8-byte big-endian
// Unix-millisecond timestamp followed by the image bytes.
type Manager struct {
	store       cache.Store
	responses   cache.Store
	http        *http.Client
	template    string
	subdomains  []string
	ttl         time.Duration
	concurrency int
	maxTiles    int
	limiter     *rate.Limiter
	now         func() time.Time
	log         zerolog.Logger
}

func NewManager(store cache.Store, opts Options) *Manager {
	m := &Manager{
		store:       store,
		responses:   opts.Responses,
		http:        opts.HTTPClient,
		template:    opts.Template,
		subdomains:  opts.Subdomains,
		ttl:         opts.TTL,
		concurrency: opts.Concurrency,
		maxTiles:    opts.MaxTiles,
		now:         opts.Now,
		log:         opts.Logger,
	}
	if m.http == nil {
		m.http = &http.Client{Timeout: fetchTimeout}
	}
	if m.responses != nil {
		t := httpcache.NewTransport(responseCache{m.responses})
		t.Transport = m.http.Transport
		client := *m.http
		client.Transport = t
		m.http = &client
	}
	if m.template == "" {
		m.template = DefaultTemplate
	}
	if len(m.subdomains) == 0 {
		m.subdomains = DefaultSubdomains
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.concurrency <= 0 {
		m.concurrency = DefaultConcurrency
	}
	if m.maxTiles <= 0 {
		m.maxTiles = DefaultMaxTiles
	}
	if m.now == nil {
		m.now = time.Now
	}
	r := opts.Rate
	if r <= 0 {
		r = DefaultRate
	}
	m.limiter = rate.NewLimiter(rate.Limit(r), m.concurrency)
	return m
}

// TTL is how long a stored tile stays valid.
func (m *Manager) TTL() time.Duration { return m.ttl }

// CacheTilesForArea downloads every tile covering b for each zoom in
// [minZoom, maxZoom]. Tiles are fetched concurrently and failures on single
// tiles are logged and counted, never fatal. Only a cancelled ctx stops the
// batch early.
func (m *Manager) CacheTilesForArea(ctx context.Context, b Bounds, minZoom, maxZoom int) (Summary, error) {
	if minZoom < 0 || maxZoom > MaxZoom || minZoom > maxZoom {
		return Summary{}, fmt.Errorf("%w: %d..%d", ErrZoomRange, minZoom, maxZoom)
	}
	if n := CountTiles(b, minZoom, maxZoom); n > m.maxTiles {
		return Summary{}, fmt.Errorf("%w: %d tiles, limit %d", ErrTooManyTiles, n, m.maxTiles)
	}

	var stored, failed, fromCache atomic.Int32
	requested := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for z := minZoom; z <= maxZoom; z++ {
		for _, c := range TilesForBounds(b, z) {
			url := ResolveURL(m.template, m.subdomains[requested%len(m.subdomains)], c)
			requested++
			g.Go(func() error {
				if err := m.limiter.Wait(gctx); err != nil {
					return err
				}
				cached, err := m.fetch(gctx, url)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					m.log.Warn().Err(err).Str("tile", c.String()).Msg("tile download failed")
					return nil
				}
				stored.Add(1)
				if cached {
					fromCache.Add(1)
				}
				return nil
			})
		}
	}
	err := g.Wait()
	sum := Summary{
		Requested: requested,
		Stored:    int(stored.Load()),
		Failed:    int(failed.Load()),
		FromCache: int(fromCache.Load()),
	}
	m.log.Info().Int("requested", sum.Requested).Int("stored", sum.Stored).Int("failed", sum.Failed).
		Int("from_cache", sum.FromCache).Msg("tile prefetch finished")
	return sum, err
}

// fetch downloads url into the tile store and reports whether the body came
// from the response cache.
func (m *Manager) fetch(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	m.Put(url, blob)
	return resp.Header.Get(httpcache.XFromCache) == "1", nil
}

// Put stores blob as the tile for url, stamped with the current time.
func (m *Manager) Put(url string, blob []byte) {
	m.store.Set(url, encodeTile(m.now(), blob))
}

// GetTile returns the cached image for url. A tile older than the TTL is a
// miss and is deleted as a side effect.
func (m *Manager) GetTile(url string) ([]byte, bool) {
	raw, ok := m.store.Get(url)
	if !ok {
		return nil, false
	}
	storedAt, blob, ok := decodeTile(raw)
	if !ok {
		m.log.Warn().Str("tile", url).Msg("corrupt tile entry removed")
		m.store.Remove(url)
		return nil, false
	}
	if m.now().Sub(storedAt) > m.ttl {
		m.store.Remove(url)
		return nil, false
	}
	return blob, true
}

// Lookup finds a tile by coordinate under any of the configured subdomains.
func (m *Manager) Lookup(c Coord) ([]byte, bool) {
	for _, s := range m.subdomains {
		if blob, ok := m.GetTile(ResolveURL(m.template, s, c)); ok {
			return blob, true
		}
	}
	return nil, false
}

// GetCacheStats counts stored tiles and sums their image sizes, expired or not.
func (m *Manager) GetCacheStats() Stats {
	var st Stats
	for _, k := range m.store.Keys() {
		raw, ok := m.store.Get(k)
		if !ok {
			continue
		}
		_, blob, ok := decodeTile(raw)
		if !ok {
			continue
		}
		st.TileCount++
		st.SizeBytes += int64(len(blob))
	}
	return st
}

// ClearCache removes every stored tile and cached response. Clearing an
// empty cache is fine.
func (m *Manager) ClearCache() {
	m.store.Clear()
	if m.responses != nil {
		m.responses.Clear()
	}
}

// responseCache lets httpcache keep responses in a cache namespace, so
// validators survive restarts and nothing is held in memory.
type responseCache struct {
	store cache.Store
}

func (r responseCache) Get(key string) ([]byte, bool) { return r.store.Get(key) }
func (r responseCache) Set(key string, b []byte)       { r.store.Set(key, b) }
func (r responseCache) Delete(key string)              { r.store.Remove(key) }

func encodeTile(at time.Time, blob []byte) []byte {
	buf := make([]byte, 8+len(blob))
	binary.BigEndian.PutUint64(buf, uint64(at.UnixMilli()))
	copy(buf[8:], blob)
	return buf
}

func decodeTile(raw []byte) (time.Time, []byte, bool) {
	if len(raw) < 8 {
		return time.Time{}, nil, false
	}
	ms := int64(binary.BigEndian.Uint64(raw[:8]))
	return time.UnixMilli(ms), raw[8:], true
}
