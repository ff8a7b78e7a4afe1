package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"bilireply/autoreply"
	"bilireply/config"
	dbpkg "bilireply/db"
	"bilireply/models"
	"bilireply/tools"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/require"
)

type fakeBili struct {
	qr      tools.QRCode
	poll    tools.QRCodePoll
	nav     tools.NavInfo
	navErr  error
	msgs    map[string]any
	sent    []tools.SendRequest
	sendKey string
	sendErr error
}

func (f *fakeBili) GenerateLoginQRCode(ctx context.Context) (tools.QRCode, error) {
	return f.qr, nil
}

func (f *fakeBili) PollLoginQRCode(ctx context.Context, key string) (tools.QRCodePoll, error) {
	return f.poll, nil
}

func (f *fakeBili) GetNav(ctx context.Context, cookies string) (tools.NavInfo, error) {
	return f.nav, f.navErr
}

func (f *fakeBili) Sessions(ctx context.Context, cookies string) ([]tools.BiliSession, error) {
	return []tools.BiliSession{{TalkerID: 42, UnreadCount: 1}}, nil
}

func (f *fakeBili) SessionMessages(ctx context.Context, cookies string, talkerID int64, opts tools.FetchOptions) (map[string]any, error) {
	return f.msgs, nil
}

func (f *fakeBili) Send(ctx context.Context, cookies string, r tools.SendRequest) (string, error) {
	f.sent = append(f.sent, r)
	return f.sendKey, f.sendErr
}

func (f *fakeBili) Ack(ctx context.Context, cookies string, talkerID int64, seqno int64, csrf string) error {
	return nil
}

type fakeRunner struct {
	report *autoreply.Report
	err    error
	opts   autoreply.RunOptions
}

func (f *fakeRunner) Run(ctx context.Context, user models.User, opts autoreply.RunOptions) (*autoreply.Report, error) {
	f.opts = opts
	return f.report, f.err
}

type testEnv struct {
	db     *gorm.DB
	r      *gin.Engine
	bili   *fakeBili
	runner *fakeRunner
	now    time.Time
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := dbpkg.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var cfg config.Configuration
	cfg.Security.JwtSecret = "test-secret"
	cfg.Security.TokenTTLHours = 1
	cfg.AutoReply.DefaultIntervalSeconds = 60
	cfg.AutoReply.Mode = models.AUTOREPLY_MODE_LATEST

	e := &testEnv{
		db:     db,
		bili:   &fakeBili{},
		runner: &fakeRunner{},
		now:    time.Date(2025, 6, 2, 12, 0, 0, 0, time.Local),
	}
	Configure(Deps{
		Config:    cfg,
		Bilibili:  e.bili,
		AutoReply: e.runner,
		Now:       func() time.Time { return e.now },
	})

	r := gin.New()
	r.Use(dbpkg.SetDBtoContext(db))
	api := r.Group("/api")
	api.GET("/auth/qrcode", GetLoginQRCode)
	api.POST("/auth/check-login", CheckLogin)

	auth := api.Group("")
	auth.Use(AuthRequired())
	auth.GET("/user", Me)
	auth.POST("/auth/logout", Logout)
	auth.GET("/rules", GetRules)
	auth.POST("/rules", CreateRule)
	auth.POST("/rules/test", TestRules)
	auth.GET("/rules/export", ExportRules)
	auth.POST("/rules/import", ImportRules)
	auth.GET("/rules/:id", GetRuleByID)
	auth.PUT("/rules/:id", UpdateRule)
	auth.DELETE("/rules/:id", DeleteRule)
	auth.GET("/messages/sessions", GetSessions)
	auth.GET("/messages/:talkerId", GetSessionMessages)
	auth.POST("/messages/:talkerId", SendSessionMessage)
	auth.POST("/auto-reply", RunAutoReply)
	auth.GET("/auto-reply/settings", GetAutoReplySettings)
	auth.PUT("/auto-reply/settings", UpdateAutoReplySettings)
	auth.GET("/auto-reply/passes", GetPassRuns)
	auth.GET("/auto-reply/dashboard/replies-per-day", GetRepliesPerDay)
	auth.GET("/proxy-config", GetProxyConfig)
	auth.PUT("/proxy-config", UpdateProxyConfig)
	auth.POST("/proxy-config/test", TestProxyConfig)
	e.r = r
	return e
}

// login creates a user and returns a bearer token for it.
func (e *testEnv) login(t *testing.T, biliID, cookies string) (models.User, string) {
	t.Helper()
	u := models.User{BiliUserID: biliID, BiliUsername: "u" + biliID, Cookies: cookies}
	require.NoError(t, e.db.Create(&u).Error)
	token, err := issueToken(u, e.now)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data), string(env.Data))
	}
	return env
}
