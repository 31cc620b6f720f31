package models

import "time"

// User account statuses.
const (
	UserActive   = "active"
	UserBanned   = "banned"
	UserInactive = "inactive"
)

// User is a registered account. ChatID links the account to a chat platform
// identity for cross-platform notifications; empty means not linked.
type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:50;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:100;not null"`
	Status       string `gorm:"size:16;default:active"`
	IsAdmin      bool   `gorm:"default:false"`
	ChatID       string `gorm:"size:64;index"` // platform user ID, e.g. discord snowflake
	CreatedAt    time.Time
	LastLogin    *time.Time

	TotalInstalls   int `gorm:"default:0"`
	SuccessInstalls int `gorm:"default:0"`
	FailedInstalls  int `gorm:"default:0"`
}

// ChatSession is a logged-in chat identity. Chat logins expire; the expired
// rows are swept periodically.
type ChatSession struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ChatID    string `gorm:"size:64;uniqueIndex;not null"`
	UserID    uint   `gorm:"index;not null"`
	CreatedAt time.Time
	ExpiresAt time.Time
}
