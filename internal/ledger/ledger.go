// Package ledger is the persistence layer for installation runs and their
// append-only logs. All state transitions flow through here so every status
// change leaves a log line behind.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/systemaudit/winstaller/internal/models"
)

// ErrNotFound is returned when an installation ID does not exist.
var ErrNotFound = errors.New("ledger: installation not found")

// logFetchLimit caps how many log lines a single read returns.
const logFetchLimit = 50

const (
	// retryAttempts bounds how often a failed write is retried.
	retryAttempts = 3
	// defaultRetryDelay is the pause between write attempts.
	defaultRetryDelay = 5 * time.Second
)

// Ledger reads and writes installation records.
type Ledger struct {
	db         *gorm.DB
	retryDelay time.Duration
}

// New creates a Ledger on the given database handle.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, retryDelay: defaultRetryDelay}
}

// withRetry runs one write operation, retrying transient failures a fixed
// number of times with a fixed delay before giving up.
func (l *Ledger) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < retryAttempts {
			log.Printf("ledger: %s attempt %d failed: %v, retrying in %v", op, attempt, err, l.retryDelay)
			time.Sleep(l.retryDelay)
		}
	}
	return err
}

// Create opens a new installation record in the starting status and returns
// it. The ID embeds the owner and a short random suffix so it is readable
// in chat while staying collision-free.
func (l *Ledger) Create(userID uint, ip, osCode, osName string) (*models.Installation, error) {
	now := time.Now()
	inst := &models.Installation{
		ID:         fmt.Sprintf("install_%d_%s", userID, uuid.NewString()[:8]),
		UserID:     userID,
		Status:     models.StatusStarting,
		IP:         ip,
		OSCode:     osCode,
		OSName:     osName,
		BootMode:   models.BootModeUnknown,
		StartTime:  now,
		LastUpdate: now,
	}
	if err := l.withRetry("create", func() error { return l.db.Create(inst).Error }); err != nil {
		return nil, fmt.Errorf("ledger: create installation: %w", err)
	}
	l.AppendLog(inst.ID, fmt.Sprintf("Installation created for %s (%s)", ip, osName))
	return inst, nil
}

// StatusUpdate carries the optional side payload of a status transition.
type StatusUpdate struct {
	Error   string
	RDPInfo *models.RDPInfo
}

// UpdateStatus transitions an installation to status, stamps LastUpdate,
// sets EndTime on terminal statuses, and records a log line. upd may be nil.
func (l *Ledger) UpdateStatus(id, status string, upd *StatusUpdate) error {
	fields := map[string]interface{}{
		"status":      status,
		"last_update": time.Now(),
	}
	if models.IsTerminal(status) {
		fields["end_time"] = time.Now()
	}
	if upd != nil {
		if upd.Error != "" {
			fields["error"] = upd.Error
		}
		if upd.RDPInfo != nil {
			encoded, err := upd.RDPInfo.Encode()
			if err != nil {
				return fmt.Errorf("ledger: encode rdp info: %w", err)
			}
			fields["rdp_info"] = encoded
		}
	}

	var affected int64
	err := l.withRetry("update status", func() error {
		res := l.db.Model(&models.Installation{}).Where("id = ?", id).Updates(fields)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("ledger: update status of %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("ledger: update status of %s: %w", id, ErrNotFound)
	}
	l.AppendLog(id, "Status changed to: "+status)
	return nil
}

// UpdateStep records the human-readable current step and logs it.
func (l *Ledger) UpdateStep(id, step string) error {
	var affected int64
	err := l.withRetry("update step", func() error {
		res := l.db.Model(&models.Installation{}).Where("id = ?", id).Updates(map[string]interface{}{
			"current_step": step,
			"last_update":  time.Now(),
		})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("ledger: update step of %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("ledger: update step of %s: %w", id, ErrNotFound)
	}
	l.AppendLog(id, step)
	return nil
}

// SetBootMode records the detected boot mode.
func (l *Ledger) SetBootMode(id, bootMode string) error {
	err := l.withRetry("set boot mode", func() error {
		return l.db.Model(&models.Installation{}).Where("id = ?", id).
			Update("boot_mode", bootMode).Error
	})
	if err != nil {
		return fmt.Errorf("ledger: set boot mode of %s: %w", id, err)
	}
	return nil
}

// AppendLog adds one log line to an installation. Logging must never break
// the run, so failures are reported but not returned.
func (l *Ledger) AppendLog(id, message string) {
	entry := models.InstallLog{
		InstallID: id,
		Timestamp: time.Now(),
		Message:   message,
	}
	err := l.withRetry("append log", func() error { return l.db.Create(&entry).Error })
	if err != nil {
		log.Printf("ledger: append log to %s: %v", id, err)
	}
}

// Get fetches one installation with its most recent log lines attached in
// chronological order.
func (l *Ledger) Get(id string) (*models.Installation, error) {
	var inst models.Installation
	err := l.db.Where("id = ?", id).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ledger: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	logs, err := l.Logs(id, logFetchLimit)
	if err != nil {
		return nil, err
	}
	inst.Logs = logs
	return &inst, nil
}

// Logs returns up to limit of the newest log lines for an installation,
// reordered oldest first.
func (l *Ledger) Logs(id string, limit int) ([]models.InstallLog, error) {
	if limit <= 0 {
		limit = logFetchLimit
	}
	var logs []models.InstallLog
	err := l.db.Where("install_id = ?", id).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: logs of %s: %w", id, err)
	}
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

// ListByOwner returns a user's installations, newest first. A non-empty
// status narrows the list to that status.
func (l *Ledger) ListByOwner(userID uint, status string, limit int) ([]models.Installation, error) {
	q := l.db.Where("user_id = ?", userID).Order("start_time DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var insts []models.Installation
	if err := q.Find(&insts).Error; err != nil {
		return nil, fmt.Errorf("ledger: list by owner %d: %w", userID, err)
	}
	return insts, nil
}

// ListActive returns every installation still in a non-terminal status.
func (l *Ledger) ListActive() ([]models.Installation, error) {
	var insts []models.Installation
	err := l.db.Where("status IN ?", models.ActiveStatuses()).
		Order("start_time DESC").
		Find(&insts).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: list active: %w", err)
	}
	return insts, nil
}

// ActiveByOwner returns a user's non-terminal installations.
func (l *Ledger) ActiveByOwner(userID uint) ([]models.Installation, error) {
	var insts []models.Installation
	err := l.db.Where("user_id = ? AND status IN ?", userID, models.ActiveStatuses()).
		Order("start_time DESC").
		Find(&insts).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: active by owner %d: %w", userID, err)
	}
	return insts, nil
}

// Recent returns the newest installations across all users.
func (l *Ledger) Recent(limit int) ([]models.Installation, error) {
	if limit <= 0 {
		limit = 20
	}
	var insts []models.Installation
	if err := l.db.Order("start_time DESC").Limit(limit).Find(&insts).Error; err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return insts, nil
}

// Stats counts installations grouped by status.
func (l *Ledger) Stats() (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := l.db.Model(&models.Installation{}).
		Select("status, count(*) as n").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: stats: %w", err)
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.N
	}
	return stats, nil
}

// Delete removes an installation and its logs.
func (l *Ledger) Delete(id string) error {
	if err := l.db.Where("install_id = ?", id).Delete(&models.InstallLog{}).Error; err != nil {
		return fmt.Errorf("ledger: delete logs of %s: %w", id, err)
	}
	res := l.db.Where("id = ?", id).Delete(&models.Installation{})
	if res.Error != nil {
		return fmt.Errorf("ledger: delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ledger: delete %s: %w", id, ErrNotFound)
	}
	return nil
}
