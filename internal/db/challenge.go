package db

import (
	"time"

	"gorm.io/gorm"
)

// 挑战（及参与记录）的状态机：active 为唯一非终态
const (
	ChallengeStatusActive    = "active"
	ChallengeStatusCompleted = "completed"
	ChallengeStatusFailed    = "failed"
	ChallengeStatusAbandoned = "abandoned"
)

// 挑战单日记录的状态；missed 行只由回填过程合成
const (
	ChallengeDayCompleted = "completed"
	ChallengeDayMissed    = "missed"
)

// Challenge 是创建者发起的定期承诺。
// EndDate = StartDate + DurationDays - 1，创建时算定后不再变化。
// CompletedDays/MissedDays/连胜字段记录的是创建者自己的进度，
// 加入者的进度在 ChallengeParticipant 中独立维护。
type Challenge struct {
	gorm.Model
	UserID        uint `gorm:"index"`
	User          User `gorm:"constraint:OnDelete:CASCADE"`
	Title         string
	Description   string
	Icon          string `gorm:"size:50;default:Target"`
	Color         string `gorm:"size:7;default:#8774e1"`
	DurationDays  int
	AllowedMisses int    `gorm:"default:0"`
	StartDate     string `gorm:"not null"`
	EndDate       string `gorm:"not null"`
	Status        string `gorm:"size:20;default:active"`
	CompletedDays int    `gorm:"default:0"`
	MissedDays    int    `gorm:"default:0"`
	CurrentStreak int    `gorm:"default:0"`
	BestStreak    int    `gorm:"default:0"`
	CompletedAt   *time.Time
	AbandonReason *string `gorm:"size:255"`
	InviteCode    *string `gorm:"size:8;uniqueIndex"`
}

// ChallengeParticipant 是通过邀请码加入者的进度记录，(challenge_id, user_id) 唯一。
// 字段与 Challenge 的创建者进度镜像，但互不影响。
type ChallengeParticipant struct {
	gorm.Model
	ChallengeID   uint      `gorm:"index;index:idx_challenge_participant_unique,unique"`
	Challenge     Challenge `gorm:"constraint:OnDelete:CASCADE"`
	UserID        uint      `gorm:"index;index:idx_challenge_participant_unique,unique"`
	User          User      `gorm:"constraint:OnDelete:CASCADE"`
	Status        string    `gorm:"size:20;default:active"`
	CompletedDays int       `gorm:"default:0"`
	MissedDays    int       `gorm:"default:0"`
	CurrentStreak int       `gorm:"default:0"`
	BestStreak    int       `gorm:"default:0"`
	CompletedAt   *time.Time
}

// ChallengeDay 记录某用户在某挑战的单日结果。
// 唯一索引包含 user_id：创建者与参与者在同一挑战上各自记天。
type ChallengeDay struct {
	gorm.Model
	ChallengeID uint      `gorm:"index;index:idx_challenge_day_unique,unique"`
	Challenge   Challenge `gorm:"constraint:OnDelete:CASCADE"`
	UserID      uint      `gorm:"index:idx_challenge_day_unique,unique"`
	DayDate     string    `gorm:"index:idx_challenge_day_unique,unique"`
	Status      string    `gorm:"size:20"`
	Note        string
	XpEarned    int `gorm:"default:0"`
}

// TableName 重写确保唯一索引作用到 challenge_id + user_id + day_date
func (ChallengeDay) TableName() string {
	return "challenge_days"
}
