package db

import (
	"time"

	"gorm.io/gorm"
)

// 目标类型枚举
const (
	GoalTypeCompletionRate   = "completion_rate"
	GoalTypeStreakDays       = "streak_days"
	GoalTypeTotalXp          = "total_xp"
	GoalTypeTotalCompletions = "total_completions"
)

// 目标状态枚举
const (
	GoalStatusActive    = "active"
	GoalStatusCompleted = "completed"
	GoalStatusFailed    = "failed"
)

// Goal 是用户的阶段性目标，同一用户同时最多一个 active。
// Deadline 创建时算定；XpReward 由类型/目标值/时长推出并封顶 300。
type Goal struct {
	gorm.Model
	UserID       uint `gorm:"index"`
	User         User `gorm:"constraint:OnDelete:CASCADE"`
	Type         string `gorm:"size:30"`
	TargetValue  int
	DurationDays int
	StartDate    string `gorm:"not null"`
	Deadline     string `gorm:"not null"`
	Status       string `gorm:"size:20;default:active"`
	XpReward     int    `gorm:"default:0"`
	CompletedAt  *time.Time
}
