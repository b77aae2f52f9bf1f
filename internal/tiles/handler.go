package tiles

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Handler serves cached tiles at /tiles/{z}/{x}/{y}.png. A miss is answered
// with a grey placeholder image; it never fetches from the tile server.
type Handler struct {
	m *Manager

	once        sync.Once
	placeholder []byte
}

func NewHandler(m *Manager) *Handler {
	return &Handler{m: m}
}

// Routes mounts the tile endpoints on a fresh router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/tiles/{z}/{x}/{y}.png", h.serveTile)
	r.Get("/tiles/stats", h.serveStats)
	return r
}

func (h *Handler) serveTile(w http.ResponseWriter, r *http.Request) {
	c, ok := parseCoord(r)
	if !ok {
		http.Error(w, "bad tile coordinate", http.StatusBadRequest)
		return
	}
	if blob, ok := h.m.Lookup(c); ok {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Tile-Source", "cache")
		_, _ = w.Write(blob)
		return
	}

	ph := h.placeholderPNG()
	if ph == nil {
		http.Error(w, "tile unavailable offline", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Tile-Source", "placeholder")
	_, _ = w.Write(ph)
}

func (h *Handler) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.m.GetCacheStats())
}

func parseCoord(r *http.Request) (Coord, bool) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errZ != nil || errX != nil || errY != nil {
		return Coord{}, false
	}
	if z < 0 || z > MaxZoom {
		return Coord{}, false
	}
	n := 1 << z
	if x < 0 || y < 0 || x >= n || y >= n {
		return Coord{}, false
	}
	return Coord{Z: z, X: x, Y: y}, true
}

func (h *Handler) placeholderPNG() []byte {
	h.once.Do(func() {
		h.placeholder = renderPlaceholder()
	})
	return h.placeholder
}

func renderPlaceholder() []byte {
	const size = 256
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			shade := uint8(0xdd)
			if x%32 == 0 || y%32 == 0 {
				shade = 0xc8
			}
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
