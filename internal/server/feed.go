package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/xtxerr/pick9/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// FeedMessage is one websocket update: the total after merge Seq.
type FeedMessage struct {
	Seq   uint64 `json:"seq"`
	Total string `json:"total"`
}

// handleFeed streams a FeedMessage for the current total and then one per
// merge. Updates a slow client cannot keep up with are skipped; every
// message carries the full total, so the latest one is always correct.
func (s *Server) handleFeed(c *gin.Context) {
	reqLog := logging.WithContext(c.Request.Context())

	if err := s.store.Ready(); err != nil {
		respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		reqLog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the current total so no merge is missed.
	sub := s.store.Subscribe()
	defer s.store.Unsubscribe(sub)

	snap, last := s.store.Snapshot()
	if err := writeFeed(conn, FeedMessage{Seq: last, Total: snap.GrandTotal().String()}); err != nil {
		return
	}

	// The client sends nothing; reading detects its close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case u, ok := <-sub.C:
			if !ok {
				closeFeed(conn, websocket.CloseGoingAway, "store closed")
				return
			}
			if u.Seq <= last {
				continue
			}
			last = u.Seq
			if err := writeFeed(conn, FeedMessage{Seq: u.Seq, Total: u.Total.String()}); err != nil {
				reqLog.Debug("feed write failed", "error", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-gone:
			return

		case <-s.shutdown:
			closeFeed(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func writeFeed(conn *websocket.Conn, msg FeedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeFeed(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
}
