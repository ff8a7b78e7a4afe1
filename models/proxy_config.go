package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProxyConfig is the global outbound proxy setting (single row).
// RuleScript is kept for the UI only; it is never executed.
type ProxyConfig struct {
	ID               int64            `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	Enabled          bool             `json:"enabled"`
	Host             string           `gorm:"default:''" json:"host"`
	Port             int              `gorm:"default:0" json:"port"`
	RuleScript       string           `gorm:"column:rule_script;type:text" json:"rule_script"`
	EnableTimeRanges bool             `gorm:"column:enable_time_ranges" json:"enable_time_ranges"`
	TimeRanges       []ProxyTimeRange `gorm:"foreignkey:ProxyConfigID" json:"time_ranges"`
	CreatedAt        *time.Time       `json:"created_at"`
	UpdatedAt        *time.Time       `json:"updated_at"`
}

// ProxyTimeRange is a daily window. DaysOfWeek is a CSV of 1..7 (1 = Monday).
type ProxyTimeRange struct {
	ID            int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ProxyConfigID int64      `gorm:"not null;index" json:"proxy_config_id"`
	Name          string     `gorm:"default:''" json:"name"`
	StartTime     string     `gorm:"column:start_time;not null" json:"start_time"` // HH:mm
	EndTime       string     `gorm:"column:end_time;not null" json:"end_time"`     // HH:mm
	DaysOfWeek    string     `gorm:"column:days_of_week;not null" json:"days_of_week"`
	CreatedAt     *time.Time `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
}

// Address returns "host:port" or "" when the proxy is not usable.
func (p ProxyConfig) Address() string {
	host := strings.TrimSpace(p.Host)
	if host == "" || p.Port <= 0 {
		return ""
	}
	return host + ":" + strconv.Itoa(p.Port)
}

// Active reports whether requests issued at now should go through the proxy.
func (p ProxyConfig) Active(now time.Time) bool {
	if !p.Enabled || p.Address() == "" {
		return false
	}
	if !p.EnableTimeRanges || len(p.TimeRanges) == 0 {
		return true
	}
	for _, r := range p.TimeRanges {
		if r.Contains(now) {
			return true
		}
	}
	return false
}

// Validate checks the HH:mm fields and the day list.
func (r ProxyTimeRange) Validate() error {
	if _, ok := parseClock(r.StartTime); !ok {
		return fmt.Errorf("start_time inválido (use HH:mm): %q", r.StartTime)
	}
	if _, ok := parseClock(r.EndTime); !ok {
		return fmt.Errorf("end_time inválido (use HH:mm): %q", r.EndTime)
	}
	if len(r.Days()) == 0 {
		return fmt.Errorf("days_of_week inválido (use 1..7): %q", r.DaysOfWeek)
	}
	return nil
}

// Days parses DaysOfWeek, ignoring anything outside 1..7.
func (r ProxyTimeRange) Days() []int {
	var out []int
	for _, s := range strings.Split(r.DaysOfWeek, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 || n > 7 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Contains reports whether t falls inside the window, both ends inclusive at minute precision.
// A window whose end is before its start wraps past midnight and belongs to the start day.
func (r ProxyTimeRange) Contains(t time.Time) bool {
	start, ok1 := parseClock(r.StartTime)
	end, ok2 := parseClock(r.EndTime)
	if !ok1 || !ok2 {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	today := isoWeekday(t)
	yesterday := today - 1
	if yesterday == 0 {
		yesterday = 7
	}

	days := r.Days()
	has := func(d int) bool {
		for _, x := range days {
			if x == d {
				return true
			}
		}
		return false
	}

	if start <= end {
		return has(today) && minute >= start && minute <= end
	}
	// overnight
	if has(today) && minute >= start {
		return true
	}
	return has(yesterday) && minute <= end
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
