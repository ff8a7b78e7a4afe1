package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"bilireply/autoreply"
	"bilireply/models"

	"github.com/adhocore/gronx"
	"github.com/jinzhu/gorm"
)

// Runner runs one auto-reply pass; *autoreply.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, user models.User, opts autoreply.RunOptions) (*autoreply.Report, error)
}

type AutoReplyWorker struct {
	db          *gorm.DB
	runner      Runner
	tick        time.Duration
	passTimeout time.Duration
	cron        *gronx.Gronx
	now         func() time.Time
}

func NewAutoReplyWorker(db *gorm.DB, runner Runner, tick time.Duration) *AutoReplyWorker {
	if tick <= 0 {
		tick = time.Second
	}
	return &AutoReplyWorker{
		db:          db,
		runner:      runner,
		tick:        tick,
		passTimeout: 2 * time.Minute,
		cron:        gronx.New(),
		now:         time.Now,
	}
}

// Start polls for due settings until ctx is done.
func (w *AutoReplyWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Printf("auto-reply worker: stopped")
				return
			case <-ticker.C:
				w.processDue(ctx)
			}
		}
	}()
}

func (w *AutoReplyWorker) processDue(ctx context.Context) {
	now := w.now()

	var settings []models.AutoReplySetting
	if err := w.db.
		Where("enabled = ?", true).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Order("next_run_at asc, id asc").
		Limit(50).
		Find(&settings).Error; err != nil {
		log.Printf("auto-reply worker: query error: %v", err)
		return
	}

	// passes run one after the other; the platform rate-limits per account anyway
	for _, s := range settings {
		if ctx.Err() != nil {
			return
		}
		if !w.claim(s, now) {
			continue
		}
		if !w.inActiveHours(s, now) {
			continue
		}
		w.runFor(ctx, s)
	}
}

// claim moves next_run_at forward; zero rows means another worker got it first.
func (w *AutoReplyWorker) claim(s models.AutoReplySetting, now time.Time) bool {
	next := now.Add(interval(s))
	res := w.db.Model(&models.AutoReplySetting{}).
		Where("id = ? AND enabled = ?", s.ID, true).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Update("next_run_at", &next)
	return res.Error == nil && res.RowsAffected == 1
}

func (w *AutoReplyWorker) inActiveHours(s models.AutoReplySetting, now time.Time) bool {
	if s.ActiveHours == "" {
		return true
	}
	due, err := w.cron.IsDue(s.ActiveHours, now)
	if err != nil {
		log.Printf("auto-reply worker: user=%d invalid active_hours %q: %v", s.UserID, s.ActiveHours, err)
		return false
	}
	return due
}

func (w *AutoReplyWorker) runFor(ctx context.Context, s models.AutoReplySetting) {
	var user models.User
	if err := w.db.First(&user, s.UserID).Error; err != nil {
		log.Printf("auto-reply worker: load user %d: %v", s.UserID, err)
		return
	}

	passCtx, cancel := context.WithTimeout(ctx, w.passTimeout)
	defer cancel()

	report, err := w.runner.Run(passCtx, user, autoreply.RunOptions{Trigger: models.PASS_TRIGGER_TIMER, Mode: s.Mode})
	if errors.Is(err, autoreply.ErrPassInProgress) {
		log.Printf("auto-reply worker: user=%d pass already running, rescheduled", s.UserID)
		return
	}

	ran := w.now()
	updates := map[string]any{"last_run_at": &ran, "last_error": ""}
	if err != nil {
		log.Printf("auto-reply worker: user=%d pass error: %v", s.UserID, err)
		updates["last_error"] = err.Error()
		updates["last_processed"] = 0
	} else {
		updates["last_processed"] = report.ProcessedCount
	}
	if err := w.db.Model(&models.AutoReplySetting{}).Where("id = ?", s.ID).Updates(updates).Error; err != nil {
		log.Printf("auto-reply worker: save setting %d: %v", s.ID, err)
	}
}

func interval(s models.AutoReplySetting) time.Duration {
	if s.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}
