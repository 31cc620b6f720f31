package users

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/systemaudit/winstaller/internal/models"
)

// OpenSession logs a chat identity in as userID. An existing session for
// the same chat identity is replaced.
func (s *Store) OpenSession(chatID string, userID uint) error {
	now := time.Now()
	sess := models.ChatSession{
		ChatID:    chatID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.db.Where("chat_id = ?", chatID).Delete(&models.ChatSession{}).Error; err != nil {
		return fmt.Errorf("users: replace session %s: %w", chatID, err)
	}
	if err := s.db.Create(&sess).Error; err != nil {
		return fmt.Errorf("users: open session %s: %w", chatID, err)
	}
	return nil
}

// SessionUser resolves the logged-in user behind a chat identity. Expired
// sessions are removed on sight and report ErrNoSession.
func (s *Store) SessionUser(chatID string) (*models.User, error) {
	var sess models.ChatSession
	err := s.db.Where("chat_id = ?", chatID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("users: session %s: %w", chatID, err)
	}
	if time.Now().After(sess.ExpiresAt) {
		s.db.Delete(&sess)
		return nil, ErrNoSession
	}
	return s.ByID(sess.UserID)
}

// CloseSession logs a chat identity out. Closing a missing session is not
// an error.
func (s *Store) CloseSession(chatID string) error {
	if err := s.db.Where("chat_id = ?", chatID).Delete(&models.ChatSession{}).Error; err != nil {
		return fmt.Errorf("users: close session %s: %w", chatID, err)
	}
	return nil
}

// SweepSessions deletes every expired session and returns how many.
func (s *Store) SweepSessions() (int, error) {
	res := s.db.Where("expires_at < ?", time.Now()).Delete(&models.ChatSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("users: sweep sessions: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
