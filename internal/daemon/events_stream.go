package daemon

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"vidpilot/internal/events"
	"vidpilot/internal/logging"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleEvents upgrades to a websocket and streams job events as JSON. A
// since query parameter replays retained events after that sequence first.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	bus := s.daemon.comps.Bus
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	// Subscribe before replaying so nothing published in between is lost.
	feed, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	last := since
	if since > 0 {
		for _, evt := range bus.Since(since) {
			if err := writeEvent(conn, evt); err != nil {
				return
			}
			last = evt.Sequence
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		case evt, ok := <-feed:
			if !ok {
				return
			}
			if evt.Sequence <= last {
				continue
			}
			if err := writeEvent(conn, evt); err != nil {
				return
			}
			last = evt.Sequence
		}
	}
}

func writeEvent(conn *websocket.Conn, evt events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return conn.WriteJSON(evt)
}
