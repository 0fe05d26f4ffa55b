package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	apirest "github.com/tahahasan7/yalla-server/api/rest"
	"github.com/tahahasan7/yalla-server/api/sse"
	apows "github.com/tahahasan7/yalla-server/api/ws"
	"github.com/tahahasan7/yalla-server/audit"
	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/config"
	"github.com/tahahasan7/yalla-server/feed"
	"github.com/tahahasan7/yalla-server/goal"
	mw "github.com/tahahasan7/yalla-server/middleware"
	"github.com/tahahasan7/yalla-server/scheduler"
	"github.com/tahahasan7/yalla-server/social/friendship"
	"github.com/tahahasan7/yalla-server/storage"
	"github.com/tahahasan7/yalla-server/testutil"
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Registry *apows.Registry
	Friends  *friendship.Service
	Goals    *goal.Service
	Feed     *feed.Service
	Changes  *changefeed.Publisher
	Photos   *storage.FakeStore
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(nil) })

	changes := changefeed.NewPublisher(pubsub, logger)
	registry := apows.NewRegistry(logger)
	t.Cleanup(registry.CloseAll)

	wsRouter := apows.NewRouter(logger)
	wsRouter.On("ping", func(_ context.Context, s *apows.UserSession, _ json.RawMessage) error {
		s.Send(&apows.Packet{Type: "pong"})
		return nil
	})

	// ---- Services ----
	friendSvc := friendship.NewService(db, changes, registry, logger)
	feedSvc := feed.NewService(db, c, logger, 100)
	goalSvc := goal.NewService(db, c, changes, logger, 100)
	photos := storage.NewFakeStore()

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(db, c, sec)
	usersH := apirest.NewUsersHandler(db, friendSvc, changes, 20)
	friendsH := apirest.NewFriendsHandler(friendSvc, auditSvc)
	goalsH := apirest.NewGoalsHandler(goalSvc, photos)
	feedH := apirest.NewFeedHandler(feedSvc, 100)
	adminH := apirest.NewAdminHandler(db, registry, sched, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

		authed := api.Group("")
		authed.Use(mw.Auth(sec, c))

		authed.GET("/users/me", usersH.Me)
		authed.PATCH("/users/me", usersH.UpdateProfile)
		authed.GET("/users/search", usersH.Search)

		authed.GET("/friends", friendsH.List)
		authed.GET("/friends/requests", friendsH.Requests)
		authed.GET("/friends/status/:id", friendsH.Status)
		authed.POST("/friends/request", friendsH.Request)
		authed.POST("/friends/accept/:id", friendsH.Accept)
		authed.POST("/friends/decline/:id", friendsH.Decline)
		authed.DELETE("/friends/:id", friendsH.Remove)

		authed.POST("/goals", goalsH.Create)
		authed.GET("/goals", goalsH.List)
		authed.PUT("/goals/:id", goalsH.Update)
		authed.DELETE("/goals/:id", goalsH.Delete)
		authed.GET("/goals/:id/logs", goalsH.Logs)
		authed.POST("/goals/:id/logs", goalsH.LogProgress)
		authed.POST("/goals/upload-url", goalsH.UploadURL)
		authed.GET("/photos/*key", goalsH.Photo)

		authed.GET("/feed", feedH.Recent)
		authed.GET("/streaks", feedH.Streaks)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth("integration-admin-key"))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/sessions", adminH.ListSessions)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- WebSocket + SSE ----
	wsH := apows.NewHandler(db, c, pubsub, sec, registry, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	sseH := sse.NewHandler(pubsub, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	return &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Registry: registry,
		Friends:  friendSvc,
		Goals:    goalSvc,
		Feed:     feedSvc,
		Changes:  changes,
		Photos:   photos,
		Server:   server,
		URL:      url,
		WSURL:    wsURL,
		Sec:      sec,
	}
}

func (ts *TestServer) Close() {
	ts.Server.Close()
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, "POST", path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, "GET", path, nil, token)
}

// Patch sends a PATCH request with JSON body and optional Bearer token.
func (ts *TestServer) Patch(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, "PATCH", path, body, token)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, "PUT", path, body, token)
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, "DELETE", path, nil, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Login logs in (auto-registers on first call) and returns the token and user ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	token = result["token"].(string)
	userID = int64(result["user_id"].(float64))
	return
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds a channel so Recv can time out without
// corrupting the connection with read deadlines.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	url := ts.WSURL + "?token=" + token
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON message packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	pkt := map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	}
	data, err := json.Marshal(pkt)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one message with a timeout, returning an error instead of
// failing the test, so callers can poll.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("read timeout after %v", timeout)
	}
}

// RecvType reads messages until one with the given type is found (within timeout).
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pkt, err := wc.RecvAny(time.Until(deadline))
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt["type"] == msgType {
			return pkt
		}
	}
	wc.t.Fatalf("timed out waiting for message type %q", msgType)
	return nil
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// UniqueID returns a short unique string suitable for usernames.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
