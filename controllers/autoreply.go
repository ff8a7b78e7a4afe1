package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"bilireply/autoreply"
	dbpkg "bilireply/db"
	"bilireply/models"

	"github.com/adhocore/gronx"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

type runAutoReplyRequest struct {
	Mode string `json:"mode"`
}

// POST /api/auto-reply
// Runs one pass now. Per-message failures are inside results; only unmet
// preconditions and a busy account are errors.
func RunAutoReply(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	// body is optional
	var req runAutoReplyRequest
	_ = c.ShouldBindJSON(&req)
	req.Mode = strings.TrimSpace(req.Mode)
	if req.Mode != "" && !models.IsValidAutoReplyMode(req.Mode) {
		RespondError(c, "mode inválido (latest|history)", http.StatusBadRequest)
		return
	}

	opts := autoreply.RunOptions{Trigger: models.PASS_TRIGGER_MANUAL, Mode: req.Mode}
	if v, err := c.Cookie("bili_jct"); err == nil {
		opts.CSRF = strings.TrimSpace(v)
	}

	report, err := deps.AutoReply.Run(requestCtx(c), user, opts)
	switch {
	case errors.Is(err, autoreply.ErrNotLoggedIn):
		RespondError(c, "usuário não logado na plataforma", http.StatusUnauthorized)
		return
	case errors.Is(err, autoreply.ErrMissingCSRF):
		RespondError(c, errNoCSRF.Error(), http.StatusUnauthorized)
		return
	case errors.Is(err, autoreply.ErrPassInProgress):
		RespondError(c, "processamento já em andamento", http.StatusConflict)
		return
	case err != nil:
		log.Printf("auto-reply: manual pass user=%d: %v", user.ID, err)
		RespondError(c, err.Error(), http.StatusBadGateway)
		return
	}

	RespondSuccess(c, gin.H{
		"pass_id":         report.PassID,
		"processed_count": report.ProcessedCount,
		"results":         report.Results,
	})
}

// loadSetting returns the user's row, or an unsaved default.
func loadSetting(db *gorm.DB, userID int64) (models.AutoReplySetting, error) {
	var s models.AutoReplySetting
	err := db.Where("user_id = ?", userID).First(&s).Error
	if gorm.IsRecordNotFoundError(err) {
		interval := deps.Config.AutoReply.DefaultIntervalSeconds
		if interval <= 0 {
			interval = 60
		}
		mode := deps.Config.AutoReply.Mode
		if !models.IsValidAutoReplyMode(mode) {
			mode = models.AUTOREPLY_MODE_LATEST
		}
		return models.AutoReplySetting{UserID: userID, IntervalSeconds: interval, Mode: mode}, nil
	}
	return s, err
}

// GET /api/auto-reply/settings
func GetAutoReplySettings(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	s, err := loadSetting(db, user.ID)
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	RespondSuccess(c, gin.H{"settings": s})
}

type autoReplySettingsRequest struct {
	Enabled         *bool   `json:"enabled"`
	IntervalSeconds *int    `json:"interval_seconds"`
	Mode            *string `json:"mode"`
	ActiveHours     *string `json:"active_hours"`
}

// PUT /api/auto-reply/settings
// Enabling requires a platform session. Changing enabled or the interval
// schedules the next run right away.
func UpdateAutoReplySettings(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req autoReplySettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	s, err := loadSetting(db, user.ID)
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	reschedule := false
	if req.Enabled != nil {
		if *req.Enabled && !user.HasSession() {
			RespondError(c, "usuário não logado na plataforma", http.StatusUnauthorized)
			return
		}
		reschedule = reschedule || *req.Enabled != s.Enabled
		s.Enabled = *req.Enabled
	}
	if req.IntervalSeconds != nil {
		if *req.IntervalSeconds < 10 || *req.IntervalSeconds > 86400 {
			RespondError(c, "interval_seconds deve estar entre 10 e 86400", http.StatusBadRequest)
			return
		}
		reschedule = reschedule || *req.IntervalSeconds != s.IntervalSeconds
		s.IntervalSeconds = *req.IntervalSeconds
	}
	if req.Mode != nil {
		mode := strings.TrimSpace(*req.Mode)
		if !models.IsValidAutoReplyMode(mode) {
			RespondError(c, "mode inválido (latest|history)", http.StatusBadRequest)
			return
		}
		s.Mode = mode
	}
	if req.ActiveHours != nil {
		expr := strings.TrimSpace(*req.ActiveHours)
		if expr != "" && !gronx.New().IsValid(expr) {
			RespondError(c, "active_hours inválido (expressão cron)", http.StatusBadRequest)
			return
		}
		s.ActiveHours = expr
	}
	if reschedule {
		s.NextRunAt = nil
	}

	if s.ID == 0 {
		err = db.Create(&s).Error
	} else {
		err = db.Save(&s).Error
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	RespondSuccess(c, gin.H{"settings": s})
}

type passRunView struct {
	models.PassRun
	Results []autoreply.Result `json:"results,omitempty"`
}

// GET /api/auto-reply/passes
// Query params:
// - trigger=manual|timer|cli (optional)
// - with_results=true (optional)
// - limit (default 50, max 200), offset
func GetPassRuns(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	limit := clampInt(queryInt(c, "limit", 50), 1, 200)
	offset := clampInt(queryInt(c, "offset", 0), 0, 1_000_000)
	withResults := c.Query("with_results") == "true"

	query := db.Model(&models.PassRun{}).Where("user_id = ?", user.ID)
	if t := strings.TrimSpace(c.Query("trigger")); t != "" {
		query = query.Where("trigger_source = ?", t)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	var runs []models.PassRun
	if err := query.Order("started_at desc, id desc").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	out := make([]passRunView, 0, len(runs))
	for _, r := range runs {
		v := passRunView{PassRun: r}
		if withResults && r.ResultsJSON != "" {
			if err := json.Unmarshal([]byte(r.ResultsJSON), &v.Results); err != nil {
				log.Printf("auto-reply: pass %s results: %v", r.PassID, err)
			}
		}
		out = append(out, v)
	}

	RespondSuccess(c, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"passes": out,
	})
}

type repliesPerDayRow struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// GET /api/auto-reply/dashboard/replies-per-day
// Query params:
// - from=YYYY-MM-DD (optional, default: today-6)
// - to=YYYY-MM-DD   (optional, default: today)
// Daily series of auto-replies sent, days without replies included.
func GetRepliesPerDay(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.Local)
	toExclusive := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.Local).AddDate(0, 0, 1)

	var rows []repliesPerDayRow
	err := db.Table("messages").
		Select(dayExpr(db, "sent_at")+" as day, count(*) as count").
		Where("user_id = ? AND is_auto_reply = ?", user.ID, true).
		Where("sent_at IS NOT NULL AND sent_at >= ? AND sent_at < ?", from, toExclusive).
		Group("day").
		Order("day asc").
		Scan(&rows).Error
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	RespondSuccess(c, gin.H{
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
		"series": fillDailySeries(from, to, rows),
	})
}
