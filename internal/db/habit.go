package db

import (
	"gorm.io/gorm"
)

// 习惯的时段标签，morning 参与 morning_streak 成就判定
const (
	TimeOfDayMorning   = "morning"
	TimeOfDayAfternoon = "afternoon"
	TimeOfDayEvening   = "evening"
	TimeOfDayAnytime   = "anytime"
)

// Habit 定义了习惯模型
// CurrentStreak/BestStreak 在每次打卡/撤销时维护；IsActive 为软删除标记。
// BestStreak 历史上 >= CurrentStreak，但撤销打卡后的重算可能让它偏高，不回收。
type Habit struct {
	gorm.Model
	UserID        uint `gorm:"index"`
	User          User `gorm:"constraint:OnDelete:CASCADE"`
	Name          string
	Description   string
	Icon          string `gorm:"size:50"`
	Color         string `gorm:"size:7"`
	Frequency     string `gorm:"size:20;default:daily"`
	TimeOfDay     string `gorm:"size:20;default:anytime"`
	CurrentStreak int    `gorm:"default:0"`
	BestStreak    int    `gorm:"default:0"`
	SortOrder     int    `gorm:"default:0"`
	IsActive      bool   `gorm:"default:true"`
}

// HabitCompletion 记录一次打卡
// HabitID + CompletedDate 采用唯一索引，并发重复打卡在存储层冲突而不是重复计 XP。
// CompletedDate 是用户时区解析出的日历日期字符串，不是时间戳。
// XpEarned 是本次打卡（含连胜加成）授予 XP 的快照。
type HabitCompletion struct {
	gorm.Model
	HabitID       uint   `gorm:"index;index:idx_habit_completion_unique,unique"`
	Habit         Habit  `gorm:"constraint:OnDelete:CASCADE"`
	UserID        uint   `gorm:"index"`
	CompletedDate string `gorm:"index:idx_habit_completion_unique,unique"`
	Note          string
	XpEarned      int `gorm:"default:0"`
}

// TableName 重写确保唯一索引作用到 habit_id + completed_date
func (HabitCompletion) TableName() string {
	return "habit_completions"
}
