// README: WebSocket live feed; bridges a connection to the trip's feed subscription.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridepulse/internal/modules/tracking"
	"ridepulse/internal/types"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type liveFrame struct {
	Type     string                        `json:"type"` // "snapshot" or "final"
	Snapshot tracking.ConsolidatedSnapshot `json:"snapshot"`
	Reason   string                        `json:"reason,omitempty"`
}

// HandleLiveFeed upgrades the connection and streams the trip's consolidated
// snapshots until the trip ends or the client disconnects. A late joiner gets
// the current snapshot immediately.
func (s *Server) HandleLiveFeed(c *gin.Context) {
	tripID := types.ID(c.Param("id"))
	if tripID == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	frames := make(chan liveFrame, 8)
	unsubscribe := s.feed.Subscribe(tripID, func(snap tracking.ConsolidatedSnapshot, final *tracking.FinalSnapshot) {
		frame := liveFrame{Type: "snapshot", Snapshot: snap}
		if final != nil {
			frame.Type = "final"
			frame.Reason = string(final.Reason)
		}
		select {
		case frames <- frame:
		default:
		}
	})
	defer unsubscribe()

	// Serve the current state before the first tick arrives.
	if snap, serr := s.tracker.GetSnapshot(c.Request.Context(), tripID); serr == nil && snap != nil {
		select {
		case frames <- liveFrame{Type: "snapshot", Snapshot: *snap}:
		default:
		}
	}

	// Reader goroutine: consume control frames, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case frame := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if werr := conn.WriteJSON(frame); werr != nil {
				return
			}
			if frame.Type == "final" {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "trip ended"))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if werr := conn.WriteMessage(websocket.PingMessage, nil); werr != nil {
				return
			}
		}
	}
}
