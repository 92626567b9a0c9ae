package api

import (
	"net/http"

	"esic/internal/auth"
	"esic/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const anonymousUser = "anonymous"

// Protocol tracking is embeddable by any portal, so every origin is accepted.
// Admin channels still require a valid token.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	if d.Hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "ws_unavailable", "Live tracking is not enabled", d.Log)
		return
	}

	userID, role, err := d.wsIdentity(r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid token", d.Log)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		d.Log.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := ws.NewConn(raw, d.Hub, userID, role)
	d.Hub.Register(conn)
	go conn.WritePump()
	go conn.ReadPump()

	d.Log.Debug("WebSocket connected", zap.String("user", userID), zap.String("role", role))
}

// wsIdentity prefers the identity set by auth.Middleware. Browsers cannot
// send headers on the handshake, so ?token= is read as a fallback. No
// token at all means an anonymous citizen.
func (d Dependencies) wsIdentity(r *http.Request) (userID, role string, err error) {
	if id := auth.GetUserID(r.Context()); id != "" {
		return id, auth.GetRole(r.Context()), nil
	}
	token := r.URL.Query().Get("token")
	if token == "" || d.JWT == nil {
		return anonymousUser, "", nil
	}
	claims, err := d.JWT.Parse(token)
	if err != nil {
		return "", "", err
	}
	if claims.Subject == "" {
		return anonymousUser, "", nil
	}
	return claims.Subject, claims.Role, nil
}
