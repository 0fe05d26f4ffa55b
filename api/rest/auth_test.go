package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tahahasan7/yalla-server/api/rest"
	"github.com/tahahasan7/yalla-server/config"
	mw "github.com/tahahasan7/yalla-server/middleware"
	"github.com/tahahasan7/yalla-server/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(t *testing.T) *gin.Engine {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{
		JWTSecret: "test-secret",
		JWTTTLH:   72 * time.Hour,
	}
	h := rest.NewAuthHandler(db, c, sec)
	r := gin.New()
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/logout", mw.Auth(sec, c), h.Logout)
	r.POST("/api/auth/refresh", mw.Auth(sec, c), h.Refresh)
	return r
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getJSON(r *gin.Engine, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLoginAutoRegister(t *testing.T) {
	r := newAuthRouter(t)

	w := postJSON(r, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "pass1234",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
	assert.NotZero(t, resp["user_id"])
}

func TestLoginWrongPassword(t *testing.T) {
	r := newAuthRouter(t)

	postJSON(r, "/api/auth/login", map[string]string{"username": "bob", "password": "correct1"})

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "bob", "password": "wrong123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginSecondTime(t *testing.T) {
	r := newAuthRouter(t)

	w1 := postJSON(r, "/api/auth/login", map[string]string{"username": "carol", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w1.Code)
	var r1 map[string]interface{}
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &r1))

	w2 := postJSON(r, "/api/auth/login", map[string]string{"username": "carol", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w2.Code)
	var r2 map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &r2))

	assert.Equal(t, r1["user_id"], r2["user_id"])
}

func TestLoginShortPassword(t *testing.T) {
	r := newAuthRouter(t)
	w := postJSON(r, "/api/auth/login", map[string]string{"username": "dave", "password": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	r := newAuthRouter(t)

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "erin", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	token := resp["token"].(string)

	w = postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	// The session key is gone, so an authed call now fails.
	w = postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	r := newAuthRouter(t)

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "frank", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	oldToken := resp["token"].(string)

	w = postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+oldToken)
	require.Equal(t, http.StatusOK, w.Code)
	var refreshed map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refreshed))
	newToken := refreshed["token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, oldToken, newToken)

	// Old token is dead, new one works.
	w = postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+oldToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+newToken)
	assert.Equal(t, http.StatusOK, w.Code)
}
