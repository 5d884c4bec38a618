package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"roomchat/internal/app/chat"
	"roomchat/internal/app/store"
	"roomchat/internal/configs"
	"roomchat/internal/pkg/auth/jwt"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/resp"
)

const handlerTestSecret = "handler-test-secret"

// stubGateway lets each test plug in just the operations it exercises.
type stubGateway struct {
	isMember     func(ctx context.Context, roomID, userID int64) (bool, error)
	listMessages func(ctx context.Context, roomID int64, limit int) ([]store.ChatMessage, error)
}

func (s *stubGateway) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	return s.isMember(ctx, roomID, userID)
}

func (s *stubGateway) CreateMessage(context.Context, int64, int64, string, []store.Attachment) (store.ChatMessage, error) {
	panic("not expected")
}

func (s *stubGateway) ListRecentMessages(ctx context.Context, roomID int64, limit int) ([]store.ChatMessage, error) {
	return s.listMessages(ctx, roomID, limit)
}

func (s *stubGateway) GetMessage(context.Context, int64) (store.ChatMessage, error) {
	panic("not expected")
}

func (s *stubGateway) FindReceipt(context.Context, int64, int64) (*store.SeenReceipt, error) {
	panic("not expected")
}

func (s *stubGateway) CreateReceipt(context.Context, int64, int64, time.Time) (bool, error) {
	panic("not expected")
}

// stubStorage records Delete calls and serves canned presigned URLs.
type stubStorage struct {
	deletedKeys []string
	deleteErr   error
}

func (s *stubStorage) PresignUpload(_ context.Context, key string, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://storage.test/upload/" + key, nil
}

func (s *stubStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/download/" + key, nil
}

func (s *stubStorage) Delete(_ context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedKeys = append(s.deletedKeys, key)
	return nil
}

func testDeps(gateway store.Gateway) *AppDeps {
	registry := chat.NewRegistry()
	return &AppDeps{
		Config: &configs.AppConfig{
			Environment:  "development",
			HistoryLimit: 50,
			JWTSecret:    handlerTestSecret,
		},
		Gateway:  gateway,
		Registry: registry,
		Presence: chat.NewPresenceTracker(registry),
		Seen:     chat.NewSeenTracker(gateway, registry),
		Storage:  &stubStorage{},
	}
}

func bearerToken(t *testing.T, userID int64, name string) string {
	t.Helper()
	tokenString, err := jwt.GenerateToken(&jwt.Payload{UserID: userID, Name: name}, handlerTestSecret, jwt.IdentityExpiration)
	require.NoError(t, err)
	return "Bearer " + tokenString
}

// doListMessages runs HandleListMessages through the identity middleware with
// the chi URL parameter in place.
func doListMessages(t *testing.T, deps *AppDeps, target, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	router.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))
	router.Get("/api/rooms/{roomID}/messages", HandleListMessages(deps))

	r := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) resp.JSONResponse {
	t.Helper()
	var body resp.JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestListMessages_ReturnsRecentHistory(t *testing.T) {
	req := require.New(t)

	gateway := &stubGateway{
		isMember: func(_ context.Context, roomID, userID int64) (bool, error) {
			return roomID == 7 && userID == 1, nil
		},
		listMessages: func(_ context.Context, roomID int64, limit int) ([]store.ChatMessage, error) {
			req.Equal(int64(7), roomID)
			req.Equal(10, limit)
			return []store.ChatMessage{
				{ID: 5, RoomID: 7, SenderID: 1, SenderName: "alice", Content: "older"},
				{ID: 6, RoomID: 7, SenderID: 2, SenderName: "bob", Content: "newer"},
			}, nil
		},
	}

	w := doListMessages(t, testDeps(gateway), "/api/rooms/7/messages?limit=10", bearerToken(t, 1, "alice"))

	req.Equal(http.StatusOK, w.Code)
	body := decodeResponse(t, w)
	req.Equal(0, body.Code)

	data, err := json.Marshal(body.Data)
	req.NoError(err)
	var payload struct {
		Messages []chat.ChatMessagePayload `json:"messages"`
	}
	req.NoError(json.Unmarshal(data, &payload))
	req.Len(payload.Messages, 2)
	req.Equal("older", payload.Messages[0].Content)
	req.Equal("bob", payload.Messages[1].Sender.Name)
}

func TestListMessages_RequiresIdentity(t *testing.T) {
	req := require.New(t)

	w := doListMessages(t, testDeps(&stubGateway{}), "/api/rooms/7/messages", "")

	req.Equal(http.StatusUnauthorized, w.Code)
	req.Equal(errs.ErrIdentityRequired, decodeResponse(t, w).Code)
}

func TestListMessages_RejectsNonMember(t *testing.T) {
	req := require.New(t)

	gateway := &stubGateway{
		isMember: func(context.Context, int64, int64) (bool, error) { return false, nil },
	}

	w := doListMessages(t, testDeps(gateway), "/api/rooms/7/messages", bearerToken(t, 9, "mallory"))

	req.Equal(http.StatusForbidden, w.Code)
	req.Equal(errs.ErrNotRoomMember, decodeResponse(t, w).Code)
}

func TestListMessages_RejectsBadParameters(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"non-numeric room", "/api/rooms/lobby/messages"},
		{"zero room", "/api/rooms/0/messages"},
		{"zero limit", "/api/rooms/7/messages?limit=0"},
		{"limit above cap", "/api/rooms/7/messages?limit=500"},
		{"non-numeric limit", "/api/rooms/7/messages?limit=many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doListMessages(t, testDeps(&stubGateway{}), tt.target, bearerToken(t, 1, "alice"))
			require.Equal(t, errs.ErrInvalidParams, decodeResponse(t, w).Code)
		})
	}
}

func TestListMessages_GatewayFailure(t *testing.T) {
	req := require.New(t)

	gateway := &stubGateway{
		isMember: func(context.Context, int64, int64) (bool, error) {
			return false, fmt.Errorf("connection refused")
		},
	}

	w := doListMessages(t, testDeps(gateway), "/api/rooms/7/messages", bearerToken(t, 1, "alice"))

	req.Equal(http.StatusInternalServerError, w.Code)
	req.Equal(errs.ErrPersistenceFailed, decodeResponse(t, w).Code)
}

func TestRouter_WebSocketAcceptsAuthorizationHeader(t *testing.T) {
	req := require.New(t)

	gateway := &stubGateway{
		isMember: func(context.Context, int64, int64) (bool, error) { return true, nil },
		listMessages: func(context.Context, int64, int) ([]store.ChatMessage, error) {
			return nil, nil
		},
	}

	server := httptest.NewServer(Router(testDeps(gateway)))
	t.Cleanup(server.Close)

	// Given a non-browser client with no token query parameter
	header := http.Header{"Authorization": []string{bearerToken(t, 1, "alice")}}
	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/ws/7"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	req.NoError(err)
	t.Cleanup(func() { conn.Close() })

	// Then the handshake succeeds and the session starts with the replay
	req.NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	var event struct {
		Type string `json:"type"`
	}
	req.NoError(conn.ReadJSON(&event))
	req.Equal(string(chat.EventHistory), event.Type)
}

func TestRouter_WebSocketRejectsMissingIdentity(t *testing.T) {
	req := require.New(t)

	server := httptest.NewServer(Router(testDeps(&stubGateway{})))
	t.Cleanup(server.Close)

	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/ws/7"
	_, response, err := websocket.DefaultDialer.Dial(wsURL, nil)

	req.Error(err)
	req.NotNil(response)
	req.Equal(http.StatusUnauthorized, response.StatusCode)
}

func TestRouter_PresignEndpointsAreRateLimited(t *testing.T) {
	req := require.New(t)
	router := Router(testDeps(&stubGateway{}))

	statuses := make([]int, 0, PresignBurst+1)
	for i := 0; i < PresignBurst+1; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/file/presign-upload", nil)
		r.RemoteAddr = "10.0.0.1:4000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		statuses = append(statuses, w.Code)
	}

	// The burst passes through to the handler (which wants identity); the
	// request after it is throttled before the handler runs.
	for i := 0; i < PresignBurst; i++ {
		req.Equal(http.StatusUnauthorized, statuses[i], "request %d", i)
	}
	req.Equal(http.StatusTooManyRequests, statuses[PresignBurst])
}

func doDeleteFile(t *testing.T, deps *AppDeps, target, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	router.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))
	router.Delete("/api/file", HandleDeleteFile(deps))

	r := httptest.NewRequest(http.MethodDelete, target, nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestDeleteFile_RemovesRoomScopedObject(t *testing.T) {
	req := require.New(t)

	gateway := &stubGateway{
		isMember: func(_ context.Context, roomID, userID int64) (bool, error) {
			return roomID == 7 && userID == 1, nil
		},
	}
	deps := testDeps(gateway)
	storageStub := deps.Storage.(*stubStorage)

	w := doDeleteFile(t, deps, "/api/file?k=7/abc.png", bearerToken(t, 1, "alice"))

	req.Equal(http.StatusOK, w.Code)
	req.Equal(0, decodeResponse(t, w).Code)
	req.Equal([]string{"7/abc.png"}, storageStub.deletedKeys)
}

func TestDeleteFile_RejectsForeignRoomKey(t *testing.T) {
	req := require.New(t)

	gateway := &stubGateway{
		isMember: func(_ context.Context, roomID, userID int64) (bool, error) {
			return roomID == 7 && userID == 1, nil
		},
	}
	deps := testDeps(gateway)
	storageStub := deps.Storage.(*stubStorage)

	// Key prefixed with a room the caller does not belong to
	w := doDeleteFile(t, deps, "/api/file?k=8/abc.png", bearerToken(t, 1, "alice"))

	req.Equal(errs.ErrNotRoomMember, decodeResponse(t, w).Code)
	req.Empty(storageStub.deletedKeys)
}

func TestDeleteFile_RejectsMalformedKey(t *testing.T) {
	req := require.New(t)
	deps := testDeps(&stubGateway{})
	storageStub := deps.Storage.(*stubStorage)

	w := doDeleteFile(t, deps, "/api/file?k=notakey.png", bearerToken(t, 1, "alice"))

	req.Equal(errs.ErrAttachmentKeyInvalid, decodeResponse(t, w).Code)
	req.Empty(storageStub.deletedKeys)
}

func TestRoomFromKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantRoom int64
		wantOK   bool
	}{
		{"valid key", "7/abc-123.png", 7, true},
		{"nested path", "12/sub/file.jpg", 12, true},
		{"no separator", "file.png", 0, false},
		{"empty prefix", "/file.png", 0, false},
		{"non-numeric prefix", "room/file.png", 0, false},
		{"negative room", "-3/file.png", 0, false},
		{"empty key", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roomID, ok := roomFromKey(tt.key)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantRoom, roomID)
		})
	}
}
