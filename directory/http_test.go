package directory_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"netpong/directory"
	"netpong/frame"
	"netpong/metrics"
)

type highscores struct {
	Found bool                 `json:"found"`
	Table frame.HighscoreTable `json:"table"`
}

func newTestHost(t *testing.T) (*directory.Host, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := directory.NewHost(":0", directory.NewMemoryStore())
	h.Metrics = metrics.New(reg)
	srv := httptest.NewServer(h.Router(reg))
	t.Cleanup(srv.Close)
	return h, srv
}

func TestGetHighscores(t *testing.T) {
	h, srv := newTestHost(t)

	res, err := http.Get(srv.URL + "/highscores")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var body highscores
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Found || body.Table != frame.DefaultHighscores() {
		t.Errorf("body = %+v", body)
	}

	h.Handle(context.Background(), "UpdateHighScore@E@1@D@2@C@3@B@4@A@9", master)
	res2, err := http.Get(srv.URL + "/highscores")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if err := json.NewDecoder(res2.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Found || body.Table[4] != (frame.Highscore{Name: "A", Score: 9}) {
		t.Errorf("body after update = %+v", body)
	}
}

func TestGetPairingsAndMetrics(t *testing.T) {
	h, srv := newTestHost(t)
	h.Handle(context.Background(), "192.168.0.101@192.168.0.102@MasterPeer", master)

	res, err := http.Get(srv.URL + "/pairings")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var pairings []directory.Pairing
	if err := json.NewDecoder(res.Body).Decode(&pairings); err != nil {
		t.Fatal(err)
	}
	if len(pairings) != 1 || pairings[0].Slave != slave {
		t.Errorf("pairings = %+v", pairings)
	}

	res2, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, res2.Body); err != nil {
		t.Fatal(err)
	}
	if want := `netpong_directory_requests_total{command="MasterPeer"} 1`; !strings.Contains(buf.String(), want) {
		t.Errorf("metrics missing %q", want)
	}
}

func TestHighscoreFeed(t *testing.T) {
	h, srv := newTestHost(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first highscores
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Table != frame.DefaultHighscores() {
		t.Errorf("initial table = %v", first.Table)
	}

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for h.Feed.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Handle(context.Background(), "UpdateHighScore@E@1@D@2@C@3@B@4@A@9", master)

	var update highscores
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !update.Found || update.Table[4].Name != "A" {
		t.Errorf("update = %+v", update)
	}
}
