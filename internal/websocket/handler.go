package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// Serve upgrades the request and runs the connection as a client of hub
// following topics. originPatterns lists accepted cross-origin hosts. It
// blocks until the connection ends.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, topics []string, originPatterns []string) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		hub.logger.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	hub.logger.Debug("websocket connected", "topics", topics, "remote", r.RemoteAddr)
	NewClient(hub, conn, topics).Run(r.Context())
	hub.logger.Debug("websocket disconnected", "remote", r.RemoteAddr)
}
