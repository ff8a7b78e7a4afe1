package autoreply

import (
	"context"

	"bilireply/models"
	"bilireply/tools"

	"github.com/jinzhu/gorm"
)

// Feed is the platform side of a pass. tools.BilibiliClient implements it.
type Feed interface {
	Sessions(ctx context.Context, cookies string) ([]tools.BiliSession, error)
	SessionMessages(ctx context.Context, cookies string, talkerID int64, opts tools.FetchOptions) (map[string]any, error)
	Send(ctx context.Context, cookies string, r tools.SendRequest) (string, error)
	Ack(ctx context.Context, cookies string, talkerID int64, seqno int64, csrf string) error
}

// Store is the persistence side of a pass.
type Store interface {
	RulesFor(userID int64) ([]models.Rule, error)
	// FindMessage returns nil, nil when the user has no message with messageID.
	FindMessage(userID int64, messageID string) (*models.Message, error)
	SaveMessage(m *models.Message) error
	MarkProcessed(userID int64, messageID string) error
	SavePassRun(run *models.PassRun) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// RulesFor returns the user's rules in id order; the engine does the ordering.
func (s *GormStore) RulesFor(userID int64) ([]models.Rule, error) {
	var rules []models.Rule
	err := s.db.Where("user_id = ?", userID).Order("id asc").Find(&rules).Error
	return rules, err
}

func (s *GormStore) FindMessage(userID int64, messageID string) (*models.Message, error) {
	var m models.Message
	err := s.db.Where("user_id = ? AND message_id = ?", userID, messageID).First(&m).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *GormStore) SaveMessage(m *models.Message) error {
	return s.db.Create(m).Error
}

func (s *GormStore) MarkProcessed(userID int64, messageID string) error {
	return s.db.Model(&models.Message{}).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Updates(map[string]any{"is_processed": true, "is_read": true}).Error
}

func (s *GormStore) SavePassRun(run *models.PassRun) error {
	return s.db.Create(run).Error
}
