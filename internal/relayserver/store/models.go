package store

import "time"

type deviceRow struct {
	ID           uint      `gorm:"primaryKey"`
	DeviceID     string    `gorm:"size:128;uniqueIndex"`
	UserID       string    `gorm:"size:128;index"`
	BrowserInfo  string    `gorm:"size:512"`
	Version      string    `gorm:"size:64"`
	Capabilities string    `gorm:"type:text"`
	Status       string    `gorm:"size:16;index"`
	LastSeenAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (deviceRow) TableName() string { return "devices" }

type commandRow struct {
	ID              string  `gorm:"primaryKey;size:36"`
	DeviceID        string  `gorm:"size:128;index:idx_commands_device_status,priority:1"`
	UserID          string  `gorm:"size:128;index"`
	Type            string  `gorm:"size:32"`
	Payload         string  `gorm:"type:text"`
	Status          string  `gorm:"size:16;index:idx_commands_device_status,priority:2"`
	StatusReason    string  `gorm:"size:256"`
	SuccessCriteria string  `gorm:"type:text"`
	Result          *string `gorm:"type:text"`
	ClaimedBy       string  `gorm:"size:128"`
	ParentID        string  `gorm:"size:36;index"`
	Attempt         int
	ArtifactKey     string  `gorm:"size:512"`
	Verification    *string `gorm:"type:text"`
	VerdictStatus   string  `gorm:"size:32;index"`

	VerifiedAt  *time.Time `gorm:"index"`
	CreatedAt   time.Time  `gorm:"index"`
	ClaimedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

func (commandRow) TableName() string { return "commands" }
