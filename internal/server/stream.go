package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/session"
)

const streamWriteTimeout = 5 * time.Second

// StreamMessage is one message on the detection event stream. Exactly one of
// the payload fields is set, named by Type.
type StreamMessage struct {
	Type      string                 `json:"type"`
	Detection *detect.DetectionEvent `json:"detection,omitempty"`
	Error     *detect.DetectionError `json:"error,omitempty"`
	Session   *session.Change        `json:"session,omitempty"`
}

// handleDetectionEvents streams detection events, detection errors and session
// changes over a WebSocket until the client goes away or the buses close.
func (s *Server) handleDetectionEvents(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Warn("event stream upgrade failed", "error", err)
		return
	}
	defer c.CloseNow()

	id := "ws-" + uuid.NewString()
	evs, err := s.detector.Events().Subscribe(id)
	if err != nil {
		c.Close(websocket.StatusTryAgainLater, "event bus closed")
		return
	}
	defer s.detector.Events().Unsubscribe(id)

	errs, err := s.detector.Errors().Subscribe(id)
	if err != nil {
		c.Close(websocket.StatusTryAgainLater, "error bus closed")
		return
	}
	defer s.detector.Errors().Unsubscribe(id)

	var changes <-chan session.Change
	if s.changes != nil {
		sub, err := s.changes.Subscribe(id)
		if err != nil {
			c.Close(websocket.StatusTryAgainLater, "session bus closed")
			return
		}
		defer s.changes.Unsubscribe(id)
		changes = sub.C()
	}

	if s.metrics != nil {
		s.metrics.GaugeSubscribers.Inc()
		defer s.metrics.GaugeSubscribers.Dec()
	}
	s.log.Info("event stream connected", "subscriber", id)

	ctx := c.CloseRead(r.Context())
	for {
		var msg StreamMessage
		select {
		case <-ctx.Done():
			s.log.Info("event stream disconnected", "subscriber", id)
			return
		case ev, ok := <-evs.C():
			if !ok {
				c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			msg = StreamMessage{Type: "detection", Detection: &ev}
		case de, ok := <-errs.C():
			if !ok {
				c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			msg = StreamMessage{Type: "error", Error: &de}
		case ch, ok := <-changes:
			if !ok {
				c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			msg = StreamMessage{Type: "session", Session: &ch}
		}

		wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
		err := wsjson.Write(wctx, c, msg)
		cancel()
		if err != nil {
			s.log.Warn("event stream write failed", "subscriber", id, "error", err)
			return
		}
	}
}
