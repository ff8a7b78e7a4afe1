package models

import (
	"strings"
	"time"
)

/************************************************
/**** MARK: RULE TYPES ****/
/************************************************/
const RULE_TYPE_GENERAL = "general"
const RULE_TYPE_GREETING = "greeting"
const RULE_TYPE_FAQ = "faq"
const RULE_TYPE_PROMOTION = "promotion"
const RULE_TYPE_CUSTOM = "custom"

// Rule is a keyword rule owned by a user.
// Keywords is a comma separated list; a token wrapped in ^...$ is a regex.
type Rule struct {
	ID               int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	UserID           int64      `gorm:"not null;index" json:"user_id"`
	Name             string     `gorm:"not null" json:"name"`
	Keywords         string     `gorm:"type:text;not null" json:"keywords"`
	ResponseTemplate string     `gorm:"column:response_template;type:text;not null" json:"response_template"`
	Priority         int        `gorm:"not null;default:0" json:"priority"`
	IsActive         bool       `gorm:"column:is_active;not null" json:"is_active"`
	Type             string     `gorm:"default:''" json:"type"`
	CreatedAt        *time.Time `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at"`
}

// IsValidRuleType accepts the known types. Empty is accepted too (legacy rows).
func IsValidRuleType(t string) bool {
	switch strings.TrimSpace(t) {
	case "", RULE_TYPE_GENERAL, RULE_TYPE_GREETING, RULE_TYPE_FAQ, RULE_TYPE_PROMOTION, RULE_TYPE_CUSTOM:
		return true
	}
	return false
}
