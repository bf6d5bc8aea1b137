package model

import (
	"time"

	"gorm.io/gorm"
)

type SessionState string

const (
	SessionActive SessionState = "active"
	SessionIdle   SessionState = "idle"
)

// ChatSession is an append-only conversation. DeletedAt marks an
// administrative delete; deleted ids are never reused.
type ChatSession struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerRef  *string        `gorm:"size:191;index" json:"owner_ref,omitempty"`
	State     SessionState   `gorm:"size:16;not null" json:"state"`
	LastSeq   int            `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// StateAt reports the session state at now. Active to Idle is passive, so the
// stored state is only a hint written on each append.
func (s ChatSession) StateAt(now time.Time, inactivity time.Duration) SessionState {
	if inactivity > 0 && now.Sub(s.UpdatedAt) >= inactivity {
		return SessionIdle
	}
	return SessionActive
}
