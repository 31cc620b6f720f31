package ledger

import (
	"fmt"
	"log"
	"time"

	"github.com/systemaudit/winstaller/internal/models"
)

// SweepStuck force-times-out every active installation that started more
// than maxAge ago. The orchestrator bounds its own runs under that age, so
// anything still active past it lost its orchestrator. Safe to rerun: the
// swept rows become terminal and fall out of the active set. Returns how
// many were swept.
func (l *Ledger) SweepStuck(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var stuck []models.Installation
	err := l.db.Where("status IN ? AND start_time < ?", models.ActiveStatuses(), cutoff).
		Find(&stuck).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep stuck: %w", err)
	}

	swept := 0
	for _, inst := range stuck {
		upd := &StatusUpdate{Error: fmt.Sprintf("Installation stuck, running for over %s", maxAge)}
		if err := l.UpdateStatus(inst.ID, models.StatusTimeout, upd); err != nil {
			log.Printf("ledger: sweep stuck %s: %v", inst.ID, err)
			continue
		}
		log.Printf("ledger: swept stuck installation %s (started %s)", inst.ID, inst.StartTime.Format(time.RFC3339))
		swept++
	}
	return swept, nil
}

// SweepCompleted deletes terminal installations that ended before maxAge
// ago, along with their logs. Returns how many records were deleted.
func (l *Ledger) SweepCompleted(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var old []models.Installation
	err := l.db.Where("status IN ? AND end_time IS NOT NULL AND end_time < ?", models.TerminalStatuses(), cutoff).
		Find(&old).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep completed: %w", err)
	}

	deleted := 0
	for _, inst := range old {
		if err := l.Delete(inst.ID); err != nil {
			log.Printf("ledger: sweep completed %s: %v", inst.ID, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// SweepLogs deletes log lines older than maxAge regardless of which
// installation they belong to. Returns how many lines were deleted.
func (l *Ledger) SweepLogs(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	res := l.db.Where("timestamp < ?", cutoff).Delete(&models.InstallLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: sweep logs: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
