// Package users manages accounts, credentials, and chat identity links.
// Registration is gated by a shared activation code; passwords are stored
// as bcrypt hashes.
package users

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/systemaudit/winstaller/internal/models"
)

var (
	ErrNotFound       = errors.New("users: user not found")
	ErrExists         = errors.New("users: username already taken")
	ErrBadCredentials = errors.New("users: invalid username or password")
	ErrBanned         = errors.New("users: account is banned")
	ErrBadActivation  = errors.New("users: invalid activation code")
	ErrNoSession      = errors.New("users: no active session")
)

// Opts configures a Store.
type Opts struct {
	DB             *gorm.DB
	ActivationCode string
	SessionTTL     time.Duration
}

// Store reads and writes user accounts and chat sessions.
type Store struct {
	db             *gorm.DB
	activationCode string
	sessionTTL     time.Duration
}

// NewStore creates a Store from opts.
func NewStore(opts Opts) *Store {
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Store{db: opts.DB, activationCode: opts.ActivationCode, sessionTTL: ttl}
}

// Register creates an account after checking the activation code.
func (s *Store) Register(username, password, activationCode string) (*models.User, error) {
	if activationCode != s.activationCode {
		return nil, ErrBadActivation
	}
	return s.Create(username, password, false)
}

// Create makes an account directly, bypassing the activation code. Used by
// the admin CLI.
func (s *Store) Create(username, password string, admin bool) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("users: create: username and password are required")
	}

	var n int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("users: create %s: %w", username, err)
	}
	if n > 0 {
		return nil, fmt.Errorf("users: create %s: %w", username, ErrExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	u := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		Status:       models.UserActive,
		IsAdmin:      admin,
		CreatedAt:    time.Now(),
	}
	if err := s.db.Create(u).Error; err != nil {
		return nil, fmt.Errorf("users: create %s: %w", username, err)
	}
	return u, nil
}

// Authenticate verifies credentials and stamps LastLogin. Banned accounts
// are rejected even with a valid password.
func (s *Store) Authenticate(username, password string) (*models.User, error) {
	var u models.User
	err := s.db.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("users: authenticate %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	if u.Status == models.UserBanned {
		return nil, ErrBanned
	}

	now := time.Now()
	u.LastLogin = &now
	if err := s.db.Model(&u).Update("last_login", now).Error; err != nil {
		return nil, fmt.Errorf("users: stamp login %s: %w", username, err)
	}
	return &u, nil
}

// ByID fetches a user by primary key.
func (s *Store) ByID(id uint) (*models.User, error) {
	var u models.User
	err := s.db.First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: by id %d: %w", id, err)
	}
	return &u, nil
}

// ByUsername fetches a user by login name.
func (s *Store) ByUsername(username string) (*models.User, error) {
	var u models.User
	err := s.db.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: by username %s: %w", username, err)
	}
	return &u, nil
}

// ByChatID fetches the user whose account is linked to a chat identity.
func (s *Store) ByChatID(chatID string) (*models.User, error) {
	var u models.User
	err := s.db.Where("chat_id = ?", chatID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: by chat id %s: %w", chatID, err)
	}
	return &u, nil
}

// ChatIDFor resolves a user's linked chat identity for notifications.
func (s *Store) ChatIDFor(userID uint) (string, bool) {
	u, err := s.ByID(userID)
	if err != nil || u.ChatID == "" {
		return "", false
	}
	return u.ChatID, true
}

// LinkChat binds a chat identity to an account, replacing any previous one.
func (s *Store) LinkChat(userID uint, chatID string) error {
	res := s.db.Model(&models.User{}).Where("id = ?", userID).Update("chat_id", chatID)
	if res.Error != nil {
		return fmt.Errorf("users: link chat %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordInstall increments the owner's total install counter.
func (s *Store) RecordInstall(userID uint) {
	s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("total_installs", gorm.Expr("total_installs + 1"))
}

// RecordOutcome increments the success or failure counter for a finished run.
func (s *Store) RecordOutcome(userID uint, succeeded bool) {
	col := "failed_installs"
	if succeeded {
		col = "success_installs"
	}
	s.db.Model(&models.User{}).Where("id = ?", userID).
		Update(col, gorm.Expr(col+" + 1"))
}

// SetStatus changes an account's status (active, banned, inactive).
func (s *Store) SetStatus(userID uint, status string) error {
	res := s.db.Model(&models.User{}).Where("id = ?", userID).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("users: set status %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
