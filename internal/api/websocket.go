package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

// serveWs upgrades the connection and hands it to the feed server. The
// credential is checked after the upgrade so auth failures surface as
// a websocket close frame with a distinguishable reason rather than a
// bare HTTP status.
func (s *QnaApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}

	token := bearerToken(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.feed.HandleConnection(conn, token)
}
