package websocket

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scanner-bridge/domain"
	"scanner-bridge/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Endpoint upgrades requests to scanner-bridge connections. The clientId
// query parameter is echoed back as-is; a fresh id is generated when it is
// missing. The type parameter selects the role.
func Endpoint(registry domain.Broadcaster, handler domain.MessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", logging.Err(err))
			return
		}

		query := r.URL.Query()
		clientID := query.Get("clientId")
		if clientID == "" {
			clientID = uuid.NewString()
		}
		role := domain.ParseRole(query.Get("type"))

		NewConn(clientID, role, conn, registry, handler).Start()
	}
}
