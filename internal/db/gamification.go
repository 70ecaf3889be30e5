package db

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// XP 来源枚举，写入台账的 source 字段
const (
	XpSourceHabitComplete = "habit_complete"
	XpSourceStreakBonus   = "streak_bonus"
	XpSourceAchievement   = "achievement"
	XpSourceDailyLogin    = "daily_login"
	XpSourceChallenge     = "challenge"
	XpSourceGoal          = "goal"
)

// XpTransaction 是只追加的 XP 台账条目，从不更新或删除。
// 某用户所有条目的 amount 之和必须等于 users.xp。
type XpTransaction struct {
	gorm.Model
	UserID      uint `gorm:"index"`
	Amount      int
	Source      string `gorm:"size:20"`
	ReferenceID *uint
}

// 成就判据类型，criteria 以 (type, value) 形式落库，保持数据驱动
const (
	CriteriaStreak             = "streak"
	CriteriaTotalCompletions   = "total_completions"
	CriteriaHabitCount         = "habit_count"
	CriteriaPerfectDay         = "perfect_day"
	CriteriaMorningStreak      = "morning_streak"
	CriteriaChallengeCreated   = "challenge_created"
	CriteriaChallengeCompleted = "challenge_completed"
)

// Achievement 是静态成就目录条目，启动时按 Key 幂等补种。
type Achievement struct {
	gorm.Model
	Key           string `gorm:"uniqueIndex;not null"`
	Name          string
	Description   string
	Icon          string `gorm:"size:50"`
	Category      string `gorm:"size:20"`
	CriteriaType  string `gorm:"size:30"`
	CriteriaValue int
	XpReward      int
}

// UserAchievement 记录一次解锁，(user_id, achievement_id) 唯一。
// 唯一索引就是幂等保障：并发触发下靠冲突收敛，不做先查后插。
type UserAchievement struct {
	gorm.Model
	UserID        uint      `gorm:"index;index:idx_user_achievement_unique,unique"`
	AchievementID uint      `gorm:"index:idx_user_achievement_unique,unique"`
	UnlockedAt    time.Time `gorm:"autoCreateTime"`
}

var achievementSeeds = []Achievement{
	{Key: "first_step", Name: "第一步", Description: "创建第一个习惯", Icon: "Footprints", Category: "completion", CriteriaType: CriteriaHabitCount, CriteriaValue: 1, XpReward: 20},
	{Key: "first_complete", Name: "完成！", Description: "第一次完成习惯", Icon: "CheckCircle", Category: "completion", CriteriaType: CriteriaTotalCompletions, CriteriaValue: 1, XpReward: 20},
	{Key: "week_warrior", Name: "一周战士", Description: "连续打卡 7 天", Icon: "Sword", Category: "streak", CriteriaType: CriteriaStreak, CriteriaValue: 7, XpReward: 50},
	{Key: "month_master", Name: "月度大师", Description: "连续打卡 30 天", Icon: "Crown", Category: "streak", CriteriaType: CriteriaStreak, CriteriaValue: 30, XpReward: 100},
	{Key: "fifty_done", Name: "五十次", Description: "单个习惯完成 50 次", Icon: "Medal", Category: "completion", CriteriaType: CriteriaTotalCompletions, CriteriaValue: 50, XpReward: 50},
	{Key: "early_bird", Name: "早起鸟", Description: "连续 7 个清晨打卡", Icon: "Sunrise", Category: "time", CriteriaType: CriteriaMorningStreak, CriteriaValue: 7, XpReward: 50},
	{Key: "collector", Name: "收藏家", Description: "拥有 5 个活跃习惯", Icon: "LayoutGrid", Category: "completion", CriteriaType: CriteriaHabitCount, CriteriaValue: 5, XpReward: 30},
	{Key: "perfectionist", Name: "完美主义者", Description: "一天内完成所有习惯", Icon: "Star", Category: "completion", CriteriaType: CriteriaPerfectDay, CriteriaValue: 1, XpReward: 30},
	{Key: "challenger", Name: "挑战者", Description: "创建第一个挑战", Icon: "Flag", Category: "challenge", CriteriaType: CriteriaChallengeCreated, CriteriaValue: 1, XpReward: 20},
	{Key: "finisher", Name: "终结者", Description: "完成第一个挑战", Icon: "Trophy", Category: "challenge", CriteriaType: CriteriaChallengeCompleted, CriteriaValue: 1, XpReward: 100},
}

// EnsureAchievements 按唯一 Key 插入缺失的成就目录行。
// 已存在的行保持原样，避免覆盖运营侧对线上目录的调整。
func EnsureAchievements(gdb *gorm.DB) error {
	for _, seed := range achievementSeeds {
		var existing Achievement
		err := gdb.Where("key = ?", seed.Key).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		record := seed
		if err := gdb.Create(&record).Error; err != nil {
			return err
		}
	}
	return nil
}
