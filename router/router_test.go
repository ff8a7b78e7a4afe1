package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bilireply/autoreply"
	"bilireply/config"
	"bilireply/controllers"
	dbpkg "bilireply/db"
	"bilireply/models"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

type stubRunner struct{ calls int }

func (s *stubRunner) Run(ctx context.Context, user models.User, opts autoreply.RunOptions) (*autoreply.Report, error) {
	s.calls++
	return &autoreply.Report{PassID: "p", Results: []autoreply.Result{}}, nil
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	enc := base64.RawURLEncoding
	head, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, _ := json.Marshal(map[string]any{"sub": userID})
	unsigned := enc.EncodeToString(head) + "." + enc.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unsigned))
	return "Bearer " + unsigned + "." + enc.EncodeToString(mac.Sum(nil))
}

func setup(t *testing.T, origins []string) (*gin.Engine, *gorm.DB, *stubRunner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := dbpkg.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var cfg config.Configuration
	cfg.Security.JwtSecret = secret
	cfg.AllowedOrigins = origins

	runner := &stubRunner{}
	controllers.Configure(controllers.Deps{Config: cfg, AutoReply: runner})

	r := gin.New()
	r.Use(dbpkg.SetDBtoContext(db))
	Initialize(r, cfg)
	return r, db, runner
}

func serve(r *gin.Engine, method, path, auth, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := setup(t, nil)
	w := serve(r, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":"ok"}`, w.Body.String())
}

func TestPreflight(t *testing.T) {
	r, _, _ := setup(t, []string{"https://panel.example.com"})

	w := serve(r, http.MethodOptions, "/api/rules", "", "https://panel.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://panel.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodOptions, "/api/rules", "", "https://evil.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthorizer(t *testing.T) {
	r, db, runner := setup(t, nil)

	noSession := models.User{BiliUserID: "1"}
	require.NoError(t, db.Create(&noSession).Error)
	withSession := models.User{BiliUserID: "2", Cookies: "SESSDATA=s; bili_jct=c;"}
	require.NoError(t, db.Create(&withSession).Error)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/auto-reply", "", "").Code)

	// token only is enough for rules, not for platform routes
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/rules", bearer(t, noSession.ID), "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/auto-reply", bearer(t, noSession.ID), "").Code)
	assert.Zero(t, runner.calls)

	w := serve(r, http.MethodPost, "/api/auto-reply", bearer(t, withSession.ID), "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, runner.calls)
}
