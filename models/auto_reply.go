package models

import "time"

/************************************************
/**** MARK: AUTO-REPLY MODES ****/
/************************************************/
const AUTOREPLY_MODE_LATEST = "latest"
const AUTOREPLY_MODE_HISTORY = "history"

/************************************************
/**** MARK: PASS TRIGGERS ****/
/************************************************/
const PASS_TRIGGER_MANUAL = "manual"
const PASS_TRIGGER_TIMER = "timer"
const PASS_TRIGGER_CLI = "cli"

func IsValidAutoReplyMode(m string) bool {
	return m == AUTOREPLY_MODE_LATEST || m == AUTOREPLY_MODE_HISTORY
}

// AutoReplySetting drives the timer worker. One row per user.
// ActiveHours is an optional cron expression; when set, the pass only runs while it is due.
type AutoReplySetting struct {
	ID              int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	UserID          int64      `gorm:"not null;unique_index" json:"user_id"`
	Enabled         bool       `gorm:"index" json:"enabled"`
	IntervalSeconds int        `gorm:"column:interval_seconds;not null;default:60" json:"interval_seconds"`
	Mode            string     `gorm:"not null;default:'latest'" json:"mode"`
	ActiveHours     string     `gorm:"column:active_hours;default:''" json:"active_hours"`
	LastRunAt       *time.Time `json:"last_run_at"`
	NextRunAt       *time.Time `gorm:"index" json:"next_run_at"`
	LastProcessed   int        `gorm:"column:last_processed" json:"last_processed"`
	LastError       string     `gorm:"column:last_error;type:text" json:"last_error"`
	CreatedAt       *time.Time `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

// PassRun is the persisted summary of one auto-reply pass.
type PassRun struct {
	ID             int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	PassID         string     `gorm:"column:pass_id;not null;unique_index" json:"pass_id"`
	UserID         int64      `gorm:"not null;index" json:"user_id"`
	Trigger        string     `gorm:"column:trigger_source;not null" json:"trigger"`
	Mode           string     `gorm:"not null" json:"mode"`
	StartedAt      *time.Time `gorm:"index" json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	ProcessedCount int        `json:"processed_count"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
	NoMatchCount   int        `json:"no_match_count"`
	ResultsJSON    string     `gorm:"column:results_json;type:text" json:"-"`
	CreatedAt      *time.Time `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// PassLock guards a user's pass across processes. A row whose ExpiresAt is past is free.
type PassLock struct {
	ID        int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	UserID    int64      `gorm:"not null;unique_index" json:"user_id"`
	Token     string     `gorm:"not null;default:''" json:"token"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}
