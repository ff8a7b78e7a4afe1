package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// dayExpr groups col by local calendar day as YYYY-MM-DD.
func dayExpr(db *gorm.DB, col string) string {
	dialect := strings.ToLower(db.Dialect().GetName())
	switch {
	case strings.Contains(dialect, "sqlite"):
		return "strftime('%Y-%m-%d', " + col + ", 'localtime')"
	case strings.Contains(dialect, "postgres"):
		return "to_char(date_trunc('day', " + col + "), 'YYYY-MM-DD')"
	}
	return "date(" + col + ")"
}

func parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	// defaults: last 7 days
	now := deps.Now()
	from := now.AddDate(0, 0, -6)
	to := now

	fromStr := strings.TrimSpace(c.Query("from"))
	toStr := strings.TrimSpace(c.Query("to"))

	var err error
	if fromStr != "" {
		from, err = time.ParseInLocation("2006-01-02", fromStr, time.Local)
		if err != nil {
			RespondError(c, "from inválido (use YYYY-MM-DD)", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
	}
	if toStr != "" {
		to, err = time.ParseInLocation("2006-01-02", toStr, time.Local)
		if err != nil {
			RespondError(c, "to inválido (use YYYY-MM-DD)", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
	}
	if from.After(to) {
		RespondError(c, "from não pode ser maior que to", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	if to.Sub(from) > 366*24*time.Hour {
		RespondError(c, "intervalo máximo é de 1 ano", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func fillDailySeries(from time.Time, to time.Time, rows []repliesPerDayRow) []repliesPerDayRow {
	m := map[string]int64{}
	for _, r := range rows {
		if r.Day == "" {
			continue
		}
		m[r.Day] = r.Count
	}

	out := []repliesPerDayRow{}
	cur := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.Local)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.Local)
	for !cur.After(end) {
		key := cur.Format("2006-01-02")
		out = append(out, repliesPerDayRow{Day: key, Count: m[key]})
		cur = cur.AddDate(0, 0, 1)
	}
	return out
}
