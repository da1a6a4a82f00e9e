package main

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/discovery"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

func (a *agent) routes() http.Handler {
	secret := []byte(a.cfg.APISecret)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/filters", authenticate(secret, a.filtersHandler))
	mux.Handle("/filters/reset", authenticate(secret, a.resetFiltersHandler))
	mux.Handle("/nearby", authenticate(secret, a.nearbyHandler))
	mux.Handle("/nearby/online", authenticate(secret, a.onlineNearbyHandler))
	mux.Handle("/nearby/clusters", authenticate(secret, a.clustersHandler))
	mux.Handle("/nearby/refresh", authenticate(secret, a.refreshHandler))
	mux.Handle("/location", authenticate(secret, a.locationHandler))
	mux.Handle("/radius-presets", authenticate(secret, a.radiusPresetsHandler))
	mux.Handle("/presence/ws", authenticate(secret, a.presenceStreamHandler))

	return withCORS(a.cfg.CORSOrigins, mux)
}

// GET /filters, PATCH /filters
func (a *agent) filtersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.session.Filters())
	case http.MethodPatch:
		var patch discovery.FilterPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		next, err := a.session.Update(patch)
		if errors.Is(err, discovery.ErrSessionClosed) {
			writeError(w, http.StatusServiceUnavailable, "session_closed")
			return
		}
		if err != nil {
			log.Printf("filters: rejected patch: %v", err)
			writeError(w, http.StatusUnprocessableEntity, "invalid_filters")
			return
		}
		writeJSON(w, http.StatusOK, next)
	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
	}
}

// POST /filters/reset
func (a *agent) resetFiltersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		return
	}
	f, err := a.session.Reset()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "session_closed")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func sortOrder(r *http.Request) (discovery.SortOrder, bool) {
	switch s := discovery.SortOrder(r.URL.Query().Get("sort")); s {
	case "":
		return discovery.SortSource, true
	case discovery.SortSource, discovery.SortDistance, discovery.SortMatch:
		return s, true
	}
	return "", false
}

// GET /nearby?sort=source|distance|match
func (a *agent) nearbyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		return
	}
	order, ok := sortOrder(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_sort")
		return
	}
	writeJSON(w, http.StatusOK, a.views(order))
}

// GET /nearby/online
func (a *agent) onlineNearbyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		return
	}
	v := a.views(discovery.SortDistance)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":         v.State,
		"partners":      v.OnlineNearby,
		"count":         len(v.OnlineNearby),
		"threshold_km":  discovery.OnlineNearbyThresholdKm,
		"stale":         v.Stale,
		"online_global": v.Summary.Online,
	})
}

type clustersResponse struct {
	Viewer   partner.Coordinates `json:"viewer"`
	Degraded bool                `json:"degraded"`
	Viewport discovery.Viewport  `json:"viewport"`
	Cell     float64             `json:"cell"`
	Clusters []discovery.Cluster `json:"clusters"`
	State    discovery.State     `json:"state"`
}

// GET /nearby/clusters?cell=0.1
func (a *agent) clustersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		return
	}
	cell := discovery.DefaultClusterCell
	if raw := r.URL.Query().Get("cell"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "invalid_cell")
			return
		}
		cell = v
	}
	v := a.views(discovery.SortSource)
	viewer, degraded := a.reporter.Viewer()
	vp := discovery.ViewportAround(viewer, v.Filters.MaxDistanceKm)
	clusters := discovery.ClusterMarkers(discovery.Markers(viewer, vp, v.Partners), cell)
	if clusters == nil {
		clusters = []discovery.Cluster{}
	}
	writeJSON(w, http.StatusOK, clustersResponse{
		Viewer:   viewer,
		Degraded: degraded,
		Viewport: vp,
		Cell:     cell,
		Clusters: clusters,
		State:    v.State,
	})
}

// POST /nearby/refresh
func (a *agent) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		return
	}
	if err := a.session.Refresh(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session_closed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"refreshing": true})
}

// GET /location
func (a *agent) locationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		return
	}
	writeJSON(w, http.StatusOK, a.reporter.Status())
}

// GET /radius-presets
func (a *agent) radiusPresetsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presets": discovery.RadiusPresets,
		"default": discovery.DefaultMaxDistanceKm,
		"max":     discovery.MaxDistanceLimitKm,
	})
}

// GET /presence/ws streams presence updates, optionally for one user_id.
func (a *agent) presenceStreamHandler(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusNotFound, "presence_disabled")
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     allowedOrigin(a.cfg.CORSOrigins),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("presence: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := a.hub.Subscribe(r.URL.Query().Get("user_id"))
	defer cancel()

	// the client only ever closes; reading surfaces that
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
