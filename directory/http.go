package directory

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"netpong/frame"
	"netpong/metrics"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// highscoresResponse is the JSON body of GET /highscores and of every
// websocket update.
type highscoresResponse struct {
	Found bool                 `json:"found"`
	Table frame.HighscoreTable `json:"table"`
}

// Router returns the admin HTTP surface of the host. g may be nil, in which
// case /metrics is not mounted.
func (h *Host) Router(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/highscores", h.getHighscores)
	r.Get("/pairings", h.getPairings)
	r.Get("/ws", h.serveFeed)
	if g != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(g))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Host) getHighscores(w http.ResponseWriter, r *http.Request) {
	t, found, err := h.Store.Load(r.Context())
	if err != nil {
		h.logger().Error("cannot load highscores", "error", err)
		http.Error(w, "highscores unavailable", http.StatusServiceUnavailable)
		return
	}
	if !found {
		t = frame.DefaultHighscores()
	}
	writeJSON(w, http.StatusOK, highscoresResponse{Found: found, Table: t})
}

func (h *Host) getPairings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.List())
}

// serveFeed streams the highscore table: once on connect, then after every
// update.
func (h *Host) serveFeed(w http.ResponseWriter, r *http.Request) {
	log := h.logger().With("remote", r.RemoteAddr)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.Feed.Subscribe()
	defer cancel()

	t, found, err := h.Store.Load(r.Context())
	if err != nil {
		log.Error("cannot load highscores", "error", err)
	}
	if !found {
		t = frame.DefaultHighscores()
	}
	if err := h.writeUpdate(conn, highscoresResponse{Found: found, Table: t}); err != nil {
		return
	}

	// The client never sends anything; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case t := <-updates:
			if err := h.writeUpdate(conn, highscoresResponse{Found: true, Table: t}); err != nil {
				log.Debug("feed write failed", "error", err)
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Host) writeUpdate(conn *websocket.Conn, v highscoresResponse) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
