/*
Package handler provides the HTTP handlers and routing setup for the chat server.

This file contains the REST handler for paging recent room history outside of a
live WebSocket session.
*/
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"roomchat/internal/app/chat"
	"roomchat/internal/pkg/auth/jwt"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/resp"
)

// HandleListMessages returns the most recent messages of a room, oldest-first,
// gated on room membership. The payload mirrors the history WebSocket event.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := jwt.IdentityFromContext(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrIdentityRequired))
			return
		}

		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil || roomID <= 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		limit := deps.Config.HistoryLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil || parsed < 1 || parsed > deps.Config.HistoryLimit {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = parsed
		}

		isMember, err := deps.Gateway.IsMember(r.Context(), roomID, identity.ID)
		if err != nil {
			logx.Error(err, "Membership check failed", "room_id", roomID, "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailed))
			return
		}
		if !isMember {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotRoomMember))
			return
		}

		messages, err := deps.Gateway.ListRecentMessages(r.Context(), roomID, limit)
		if err != nil {
			logx.Error(err, "History query failed", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailed))
			return
		}

		out := make([]chat.ChatMessagePayload, 0, len(messages))
		for _, msg := range messages {
			out = append(out, chat.MessagePayload(msg))
		}

		resp.RespondSuccess(w, r, map[string]any{"messages": out})
	}
}
