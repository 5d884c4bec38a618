/*
Package handler provides the HTTP handlers and routing setup for the chat server.

This file contains the WebSocket upgrade handler: it rate limits, resolves the
caller's identity token, upgrades the connection, and hands the channel to a
chat session. Everything after the upgrade - membership gate, history replay,
event dispatch, cleanup - belongs to the chat package.
*/
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"roomchat/internal/app/chat"
	"roomchat/internal/app/user"
	"roomchat/internal/pkg/auth/jwt"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/limiter"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/resp"
)

// HandleWebSocket creates the HandlerFunc that admits new chat connections.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: rate limit exceeded", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil || roomID <= 0 {
			logx.Warn("WebSocket request rejected: invalid room id")
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		identity, customErr := resolveIdentity(r, deps.Config.JWTSecret)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(conn, roomID, identity)
		session := chat.NewSession(client, deps.Gateway, deps.Registry, deps.Presence, deps.Seen, deps.Config.HistoryLimit)

		logx.Info("WebSocket connection established",
			"conn_id", client.ID(), "room_id", roomID, "user_id", identity.ID)

		session.Run(r.Context())
	}
}

// resolveIdentity resolves the caller's identity token. Browsers cannot set
// headers on WebSocket dials, so the token is read from the "token" query
// parameter first and the Authorization header as a fallback.
func resolveIdentity(r *http.Request, secretKey string) (user.Identity, *errs.CustomError) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		if identity, ok := jwt.IdentityFromContext(r); ok {
			return identity, nil
		}
		return user.Identity{}, errs.NewError(errs.ErrIdentityRequired)
	}

	payload, err := jwt.ParseToken(tokenString, secretKey)
	if err != nil {
		logx.Warn("WebSocket request rejected: invalid identity token", "error", err)
		return user.Identity{}, errs.NewError(errs.ErrIdentityInvalid)
	}

	return user.Identity{ID: payload.UserID, Name: payload.Name}, nil
}
