package models

import (
	"encoding/json"
	"time"
)

// Installation statuses, in phase order. Terminal statuses are completed,
// failed, and timeout; everything else counts as active.
const (
	StatusStarting   = "starting"
	StatusConnecting = "connecting"
	StatusChecking   = "checking"
	StatusPreparing  = "preparing"
	StatusInstalling = "installing"
	StatusMonitoring = "monitoring"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTimeout    = "timeout"
)

// RDPPort is the port the installer configures RDP on. Installs always
// reuse the SSH port so no extra firewall rule is needed, and persisted
// records are normalized to it on read.
const RDPPort = 22

// RDPUsername is the administrator account the installer provisions.
const RDPUsername = "Administrator"

// Boot modes detected on the target host.
const (
	BootModeUEFI    = "uefi"
	BootModeLegacy  = "legacy"
	BootModeUnknown = "unknown"
)

// ActiveStatuses lists every non-terminal status.
func ActiveStatuses() []string {
	return []string{
		StatusStarting,
		StatusConnecting,
		StatusChecking,
		StatusPreparing,
		StatusInstalling,
		StatusMonitoring,
	}
}

// TerminalStatuses lists every terminal status.
func TerminalStatuses() []string {
	return []string{StatusCompleted, StatusFailed, StatusTimeout}
}

// IsTerminal reports whether the given status ends an installation run.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Installation is one Windows install run against a target host.
type Installation struct {
	ID          string `gorm:"primaryKey;size:64"`
	UserID      uint   `gorm:"index;not null"`
	Status      string `gorm:"size:16;default:starting;index"`
	IP          string `gorm:"size:64;index"`
	OSCode      string `gorm:"size:16"`
	OSName      string `gorm:"size:64"`
	BootMode    string `gorm:"size:8;default:unknown"`
	CurrentStep string `gorm:"size:255"`
	Error       string `gorm:"type:text"`
	RDPInfo     string `gorm:"type:json"` // serialized RDPInfo, empty until terminal
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdate  time.Time

	Logs []InstallLog `gorm:"foreignKey:InstallID;constraint:OnDelete:CASCADE"`
}

// InstallLog is one append-only log line belonging to an installation.
type InstallLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	InstallID string `gorm:"size:64;index;not null"`
	Timestamp time.Time
	Message   string `gorm:"type:text"`
}

// RDPInfo is the connection tuple handed to the end user. Port is always
// the fixed RDP port regardless of what was persisted.
type RDPInfo struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Encode serializes the tuple for the RDPInfo column.
func (r RDPInfo) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseRDPInfo decodes a persisted RDP tuple. The port field is normalized
// to RDPPort no matter what was stored; old records carried other values.
func ParseRDPInfo(raw string) (*RDPInfo, error) {
	if raw == "" {
		return nil, nil
	}
	var info RDPInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, err
	}
	info.Port = RDPPort
	return &info, nil
}
