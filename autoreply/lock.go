package autoreply

import (
	"errors"
	"sync"
	"time"

	"bilireply/models"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
)

var ErrPassInProgress = errors.New("auto-reply pass already running for this user")

// Locker hands out one lease per user. Acquire returns ErrPassInProgress while
// an unexpired lease exists; Release with the returned token frees it.
type Locker interface {
	Acquire(userID int64, ttl time.Duration) (string, error)
	Release(userID int64, token string) error
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is enough for a single server process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[int64]memoryLease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: map[int64]memoryLease{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(userID int64, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[userID]; ok && now.Before(cur.expiresAt) {
		return "", ErrPassInProgress
	}
	token := uuid.NewString()
	l.leases[userID] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

func (l *MemoryLocker) Release(userID int64, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[userID]; ok && cur.token == token {
		delete(l.leases, userID)
	}
	return nil
}

// GormLocker keeps leases in the pass_locks table so the API server and the
// worker (or a CLI run) exclude each other.
type GormLocker struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLocker(db *gorm.DB) *GormLocker {
	return &GormLocker{db: db, now: time.Now}
}

func (l *GormLocker) Acquire(userID int64, ttl time.Duration) (string, error) {
	now := l.now()
	expires := now.Add(ttl)
	token := uuid.NewString()

	// lock otimista: só assume a linha se ela estiver expirada
	res := l.db.Model(&models.PassLock{}).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at <= ?)", userID, now).
		Updates(map[string]any{"token": token, "expires_at": &expires})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		return token, nil
	}

	var count int
	if err := l.db.Model(&models.PassLock{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return "", ErrPassInProgress
	}

	// unique index on user_id: a concurrent insert loses here
	lock := models.PassLock{UserID: userID, Token: token, ExpiresAt: &expires}
	if err := l.db.Create(&lock).Error; err != nil {
		return "", ErrPassInProgress
	}
	return token, nil
}

func (l *GormLocker) Release(userID int64, token string) error {
	past := l.now().Add(-time.Second)
	return l.db.Model(&models.PassLock{}).
		Where("user_id = ? AND token = ?", userID, token).
		Updates(map[string]any{"token": "", "expires_at": &past}).Error
}
