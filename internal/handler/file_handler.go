/*
Package handler provides the HTTP handlers and routing setup for the chat server.

This file contains the attachment presign handlers. Files never pass through
this server: clients upload and download directly against object storage using
short-lived URLs scoped to a room-prefixed key.
*/
package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"roomchat/internal/app/chat"
	"roomchat/internal/pkg/auth/jwt"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/req"
	"roomchat/internal/pkg/resp"
)

// PresignUploadInput defines the JSON input for generating an upload URL.
type PresignUploadInput struct {
	RoomID   int64  `json:"roomId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignUpload generates a time-limited presigned upload URL for an
// attachment, scoped under the target room's key prefix. The caller must be a
// member of that room.
func HandlePresignUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := jwt.IdentityFromContext(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrIdentityRequired))
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.RoomID <= 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if customErr := requireMembership(r, deps, input.RoomID, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := chat.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := chat.ValidateFileType(input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		fileExt := strings.ToLower(filepath.Ext(input.FileName))
		fileKey := fmt.Sprintf("%d/%s%s", input.RoomID, uuid.NewString(), fileExt)

		url, err := deps.Storage.PresignUpload(
			r.Context(),
			fileKey,
			input.MimeType,
			input.FileSize,
			chat.PresignedURLDuration,
		)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"fileKey":      fileKey,
			"fileName":     input.FileName,
		})
	}
}

// HandlePresignDownload redirects to a time-limited presigned download URL.
// The key must carry the prefix of a room the caller belongs to.
func HandlePresignDownload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := jwt.IdentityFromContext(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrIdentityRequired))
			return
		}

		fileKey := r.URL.Query().Get("k")
		roomID, keyOK := roomFromKey(fileKey)
		if !keyOK {
			resp.RespondError(w, r, errs.NewError(errs.ErrAttachmentKeyInvalid))
			return
		}

		if customErr := requireMembership(r, deps, roomID, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		url, err := deps.Storage.PresignDownload(r.Context(), fileKey, chat.PresignedURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}

// HandleDeleteFile removes an uploaded attachment object from storage. The key
// must carry the prefix of a room the caller belongs to, the same authorization
// rule as downloads; an upload abandoned before its message was sent can be
// reaped this way.
func HandleDeleteFile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := jwt.IdentityFromContext(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrIdentityRequired))
			return
		}

		fileKey := r.URL.Query().Get("k")
		roomID, keyOK := roomFromKey(fileKey)
		if !keyOK {
			resp.RespondError(w, r, errs.NewError(errs.ErrAttachmentKeyInvalid))
			return
		}

		if customErr := requireMembership(r, deps, roomID, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := deps.Storage.Delete(r.Context(), fileKey); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"fileKey": fileKey})
	}
}

// requireMembership returns nil when the user belongs to the room.
func requireMembership(r *http.Request, deps *AppDeps, roomID, userID int64) *errs.CustomError {
	isMember, err := deps.Gateway.IsMember(r.Context(), roomID, userID)
	if err != nil {
		return errs.NewError(errs.ErrPersistenceFailed)
	}
	if !isMember {
		return errs.NewError(errs.ErrNotRoomMember)
	}
	return nil
}

// roomFromKey extracts the room id prefix from an attachment key.
func roomFromKey(key string) (int64, bool) {
	prefix, _, found := strings.Cut(key, "/")
	if !found || prefix == "" {
		return 0, false
	}

	roomID, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || roomID <= 0 {
		return 0, false
	}
	return roomID, true
}
