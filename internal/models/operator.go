package models

import "time"

// Operator is a back-office account allowed to trigger sweeps and list payments.
type Operator struct {
	BaseModel
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}
