package models

import "time"

// Message is a private message seen or sent by the service.
// MessageID is the platform key (msg_key). The dedup key is (UserID, MessageID).
type Message struct {
	ID          int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	MessageID   string     `gorm:"column:message_id;not null;unique_index:uix_messages_user_message" json:"message_id"`
	UserID      int64      `gorm:"not null;unique_index:uix_messages_user_message" json:"user_id"`
	SenderID    string     `gorm:"column:sender_id;not null;index" json:"sender_id"`
	ReceiverID  string     `gorm:"column:receiver_id;not null" json:"receiver_id"`
	Content     string     `gorm:"type:text" json:"content"`
	SentAt      *time.Time `gorm:"index" json:"sent_at"`
	IsRead      bool       `gorm:"column:is_read" json:"is_read"`
	IsProcessed bool       `gorm:"column:is_processed" json:"is_processed"`
	IsAutoReply bool       `gorm:"column:is_auto_reply;index" json:"is_auto_reply"`
	RuleID      *int64     `gorm:"column:rule_id" json:"rule_id"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}
