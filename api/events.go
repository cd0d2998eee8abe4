package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Events handles GET /events. Each connection gets its own subscription to
// the bus and receives every broadcast from the moment it connects. No
// snapshot is sent on connect: a fresh page starts locked regardless.
// Pages may send {"type":"heartbeat"} on the same connection.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := a.events.Subscribe(ctx)
	if err != nil {
		mapError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	go a.readPump(ctx, cancel, conn)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				a.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads page messages until the connection fails, then cancels
// the stream.
func (a *API) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		switch msg.Type {
		case "heartbeat":
			a.authority.Heartbeat(ctx)
		default:
			a.logger.Debug("ignoring page message", "type", msg.Type)
		}
	}
}
