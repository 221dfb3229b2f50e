package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/meltforce/pushreps/internal/session"
)

// TestEventStream verifies a WebSocket client receives session changes and
// the detection event of a counted rep.
func TestEventStream(t *testing.T) {
	a := newTestAPI(t)
	ts := httptest.NewServer(a.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/detection/events"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(a.metrics.GaugeSubscribers) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	id := a.start(t)
	a.do(t, http.MethodPost, "/api/v1/detection/start", map[string]string{"session_id": id}, nil)
	for _, deg := range []float64{170, 80, 170} {
		a.do(t, http.MethodPost, "/api/v1/detection/frames", a.frame(deg, 0.9), nil)
	}

	var sawStart, sawRep bool
	for i := 0; i < 20 && !(sawStart && sawRep); i++ {
		var msg StreamMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		switch msg.Type {
		case "session":
			if msg.Session.Type == session.ChangeStarted && msg.Session.Session.ID == id {
				sawStart = true
			}
		case "detection":
			if msg.Detection.CountIncremented && msg.Detection.Applied {
				sawRep = true
			}
		}
	}
	if !sawStart {
		t.Error("no session started message")
	}
	if !sawRep {
		t.Error("no counted detection message")
	}
}

// TestEventStreamRejectsPlainGET verifies a non-WebSocket request is refused.
func TestEventStreamRejectsPlainGET(t *testing.T) {
	a := newTestAPI(t)
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/detection/events", nil))
	if rec.Code < 400 {
		t.Errorf("status = %d, want an error status", rec.Code)
	}
}
