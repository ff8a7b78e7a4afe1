package controllers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"bilireply/models"
	"bilireply/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ruleOut struct {
	Rule models.Rule `json:"rule"`
}

func TestCreateRule_Defaults(t *testing.T) {
	e := newEnv(t)
	u, token := e.login(t, "100", "bili_jct=x;")

	var out ruleOut
	w := e.do(http.MethodPost, "/api/rules", map[string]any{
		"name": "greet", "keywords": "hello, hi", "response_template": "hey {message}",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &out)

	assert.NotZero(t, out.Rule.ID)
	assert.Equal(t, u.ID, out.Rule.UserID)
	assert.Equal(t, 0, out.Rule.Priority)
	assert.True(t, out.Rule.IsActive)
	assert.Equal(t, models.RULE_TYPE_GENERAL, out.Rule.Type)

	// explicit inactive survives the insert
	w = e.do(http.MethodPost, "/api/rules", map[string]any{
		"name": "off", "keywords": "x", "response_template": "y", "is_active": false, "priority": 5, "type": "faq",
	}, token)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &out)
	var stored models.Rule
	require.NoError(t, e.db.First(&stored, out.Rule.ID).Error)
	assert.False(t, stored.IsActive)
	assert.Equal(t, 5, stored.Priority)
	assert.Equal(t, "faq", stored.Type)
}

func TestCreateRule_Validation(t *testing.T) {
	e := newEnv(t)
	_, token := e.login(t, "100", "")

	cases := []map[string]any{
		{"keywords": "a", "response_template": "b"},
		{"name": "n", "keywords": " , ", "response_template": "b"},
		{"name": "n", "keywords": "a", "response_template": " "},
		{"name": "n", "keywords": "^(unclosed$", "response_template": "b"},
		{"name": "n", "keywords": "a", "response_template": "b", "type": "spam"},
	}
	for _, body := range cases {
		w := e.do(http.MethodPost, "/api/rules", body, token)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.False(t, decode(t, w, nil).Success)
	}
}

func TestRules_ListOrderAndOwnership(t *testing.T) {
	e := newEnv(t)
	u, token := e.login(t, "100", "")
	other, otherToken := e.login(t, "200", "")

	require.NoError(t, e.db.Create(&models.Rule{UserID: u.ID, Name: "low", Keywords: "a", ResponseTemplate: "r", Priority: 1, IsActive: true}).Error)
	require.NoError(t, e.db.Create(&models.Rule{UserID: u.ID, Name: "high", Keywords: "a", ResponseTemplate: "r", Priority: 9, IsActive: true}).Error)
	foreign := models.Rule{UserID: other.ID, Name: "theirs", Keywords: "a", ResponseTemplate: "r", IsActive: true}
	require.NoError(t, e.db.Create(&foreign).Error)

	var list struct {
		Rules []models.Rule `json:"rules"`
	}
	w := e.do(http.MethodGet, "/api/rules", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list.Rules, 2)
	assert.Equal(t, "high", list.Rules[0].Name)
	assert.Equal(t, models.RULE_TYPE_GENERAL, list.Rules[0].Type, "legacy empty type reads as general")

	path := "/api/rules/" + itoa64(foreign.ID)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, path, nil, token).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, path, map[string]any{"name": "x"}, token).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodDelete, path, nil, token).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, path, nil, otherToken).Code)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/rules/9999", nil, token).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/rules/abc", nil, token).Code)
}

func TestUpdateRule_Partial(t *testing.T) {
	e := newEnv(t)
	u, token := e.login(t, "100", "")
	rule := models.Rule{UserID: u.ID, Name: "r", Keywords: "a", ResponseTemplate: "tpl", Priority: 3, IsActive: true, Type: "faq"}
	require.NoError(t, e.db.Create(&rule).Error)
	path := "/api/rules/" + itoa64(rule.ID)

	w := e.do(http.MethodPut, path, map[string]any{"is_active": false, "priority": 0}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stored models.Rule
	require.NoError(t, e.db.First(&stored, rule.ID).Error)
	assert.False(t, stored.IsActive)
	assert.Equal(t, 0, stored.Priority)
	assert.Equal(t, "tpl", stored.ResponseTemplate)
	assert.Equal(t, "faq", stored.Type)

	w = e.do(http.MethodPut, path, map[string]any{"keywords": "^[$"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodDelete, path, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path, nil, token).Code)
}

func TestTestRules(t *testing.T) {
	e := newEnv(t)
	u, token := e.login(t, "100", "")
	require.NoError(t, e.db.Create(&models.Rule{UserID: u.ID, Name: "price", Keywords: "^.*price.*$", ResponseTemplate: "re: {message} @ {time}", Priority: 2, IsActive: true}).Error)
	require.NoError(t, e.db.Create(&models.Rule{UserID: u.ID, Name: "any", Keywords: "what", ResponseTemplate: "generic", Priority: 1, IsActive: true}).Error)

	var out struct {
		Matched  bool   `json:"matched"`
		Reply    string `json:"reply"`
		RuleName string `json:"rule_name"`
		RuleType string `json:"rule_type"`
	}
	w := e.do(http.MethodPost, "/api/rules/test", map[string]string{"content": "what is the PRICE"}, token)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &out)
	assert.True(t, out.Matched)
	assert.Equal(t, "price", out.RuleName)
	assert.Equal(t, "general", out.RuleType)
	assert.Equal(t, "re: what is the PRICE @ 2025-06-02 12:00", out.Reply)

	out.Matched = true
	w = e.do(http.MethodPost, "/api/rules/test", map[string]string{"content": "nothing here"}, token)
	decode(t, w, &out)
	assert.False(t, out.Matched)

	// dry run
	var count int
	e.db.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
	assert.Empty(t, e.bili.sent)
}

func TestExportImportRules(t *testing.T) {
	e := newEnv(t)
	u, token := e.login(t, "100", "")
	require.NoError(t, e.db.Create(&models.Rule{UserID: u.ID, Name: "a", Keywords: "x", ResponseTemplate: "y", Priority: 2, IsActive: true, Type: "faq"}).Error)
	require.NoError(t, e.db.Create(&models.Rule{UserID: u.ID, Name: "b", Keywords: "z", ResponseTemplate: "w", IsActive: false}).Error)

	w := e.do(http.MethodGet, "/api/rules/export", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "rules-20250602.xlsx")
	xlsx := w.Body.Bytes()

	parsed, rowErrs, err := tools.RulesFromXLSX(bytes.NewReader(xlsx))
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, parsed, 2)

	upload := func(query string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "rules.xlsx")
		require.NoError(t, err)
		_, _ = fw.Write(xlsx)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/rules/import"+query, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.r.ServeHTTP(rec, req)
		return rec
	}

	var out struct {
		Imported int              `json:"imported"`
		Replaced bool             `json:"replaced"`
		Errors   []tools.RowError `json:"errors"`
	}
	w = upload("")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &out)
	assert.Equal(t, 2, out.Imported)
	assert.False(t, out.Replaced)

	var count int
	e.db.Model(&models.Rule{}).Where("user_id = ?", u.ID).Count(&count)
	assert.Equal(t, 4, count)

	w = upload("?mode=replace")
	require.Equal(t, http.StatusOK, w.Code)
	e.db.Model(&models.Rule{}).Where("user_id = ?", u.ID).Count(&count)
	assert.Equal(t, 2, count)

	var inactive models.Rule
	require.NoError(t, e.db.Where("user_id = ? AND name = ?", u.ID, "b").First(&inactive).Error)
	assert.False(t, inactive.IsActive)

	req := httptest.NewRequest(http.MethodPost, "/api/rules/import", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
