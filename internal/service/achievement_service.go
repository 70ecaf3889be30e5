package service

import (
	"fmt"
	"time"

	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementService 负责成就判据匹配与幂等解锁。
// 只在特定事件后同步运行，从不定时扫描。
// 解锁的幂等性完全依赖 (user_id, achievement_id) 唯一索引：
// 并发触发下插入冲突被忽略，而不是先查后插。
type AchievementService struct {
	db           *gorm.DB
	gamification *GamificationService
}

// CompletionContext 描述刚刚发生的一次习惯打卡
type CompletionContext struct {
	UserID        uint
	HabitID       uint
	CurrentStreak int
	Today         string
}

// ChallengeCompletionContext 描述刚刚整体完成的挑战
type ChallengeCompletionContext struct {
	UserID       uint
	ChallengeID  uint
	DurationDays int
	MissedDays   int
}

// UnlockedAchievement 返回给调用方展示的新解锁信息
type UnlockedAchievement struct {
	Achievement db.Achievement
	XpAwarded   int
}

// AchievementStatus 是目录条目附带的用户解锁状态
type AchievementStatus struct {
	Achievement db.Achievement
	Unlocked    bool
	UnlockedAt  *time.Time
}

// NewAchievementService 构造 AchievementService
func NewAchievementService(gdb *gorm.DB, gamification *GamificationService) *AchievementService {
	return &AchievementService{db: gdb, gamification: gamification}
}

// ListForUser 返回完整目录并标注该用户的解锁情况。
func (s *AchievementService) ListForUser(userID uint) ([]AchievementStatus, error) {
	var achievements []db.Achievement
	if err := s.db.Order("id ASC").Find(&achievements).Error; err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}

	var unlocked []db.UserAchievement
	if err := s.db.Where("user_id = ?", userID).Find(&unlocked).Error; err != nil {
		return nil, fmt.Errorf("list user achievements: %w", err)
	}

	unlockedAt := make(map[uint]time.Time, len(unlocked))
	for _, ua := range unlocked {
		unlockedAt[ua.AchievementID] = ua.UnlockedAt
	}

	statuses := make([]AchievementStatus, 0, len(achievements))
	for _, a := range achievements {
		status := AchievementStatus{Achievement: a}
		if at, ok := unlockedAt[a.ID]; ok {
			status.Unlocked = true
			t := at
			status.UnlockedAt = &t
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// CheckAfterCompletion 在习惯打卡后评估 streak / total_completions /
// habit_count / perfect_day / morning_streak 五类判据。
func (s *AchievementService) CheckAfterCompletion(ctx CompletionContext) ([]UnlockedAchievement, error) {
	candidates, err := s.lockedCandidates(ctx.UserID)
	if err != nil {
		return nil, err
	}

	var results []UnlockedAchievement
	for _, a := range candidates {
		met, err := s.completionCriteriaMet(a, ctx)
		if err != nil {
			return nil, err
		}
		if !met {
			continue
		}
		unlockedInfo, err := s.unlock(ctx.UserID, a)
		if err != nil {
			return nil, err
		}
		if unlockedInfo != nil {
			results = append(results, *unlockedInfo)
		}
	}
	return results, nil
}

// CheckAfterHabitCreated 只评估 habit_count 判据。
func (s *AchievementService) CheckAfterHabitCreated(userID uint) ([]UnlockedAchievement, error) {
	candidates, err := s.lockedCandidates(userID)
	if err != nil {
		return nil, err
	}

	var habitCount int64
	if err := s.db.Model(&db.Habit{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&habitCount).Error; err != nil {
		return nil, fmt.Errorf("count habits: %w", err)
	}

	var results []UnlockedAchievement
	for _, a := range candidates {
		if a.CriteriaType != db.CriteriaHabitCount {
			continue
		}
		if int(habitCount) < a.CriteriaValue {
			continue
		}
		unlockedInfo, err := s.unlock(userID, a)
		if err != nil {
			return nil, err
		}
		if unlockedInfo != nil {
			results = append(results, *unlockedInfo)
		}
	}
	return results, nil
}

// CheckAfterChallengeCreated 只评估 challenge_created 判据。
func (s *AchievementService) CheckAfterChallengeCreated(userID uint) ([]UnlockedAchievement, error) {
	candidates, err := s.lockedCandidates(userID)
	if err != nil {
		return nil, err
	}

	var created int64
	if err := s.db.Model(&db.Challenge{}).
		Where("user_id = ?", userID).
		Count(&created).Error; err != nil {
		return nil, fmt.Errorf("count challenges: %w", err)
	}

	var results []UnlockedAchievement
	for _, a := range candidates {
		if a.CriteriaType != db.CriteriaChallengeCreated {
			continue
		}
		if int(created) < a.CriteriaValue {
			continue
		}
		unlockedInfo, err := s.unlock(userID, a)
		if err != nil {
			return nil, err
		}
		if unlockedInfo != nil {
			results = append(results, *unlockedInfo)
		}
	}
	return results, nil
}

// CheckAfterChallengeCompletion 只评估 challenge_completed 判据。
func (s *AchievementService) CheckAfterChallengeCompletion(ctx ChallengeCompletionContext) ([]UnlockedAchievement, error) {
	candidates, err := s.lockedCandidates(ctx.UserID)
	if err != nil {
		return nil, err
	}

	var completed int64
	if err := s.db.Model(&db.Challenge{}).
		Where("user_id = ? AND status = ?", ctx.UserID, db.ChallengeStatusCompleted).
		Count(&completed).Error; err != nil {
		return nil, fmt.Errorf("count completed challenges: %w", err)
	}

	var results []UnlockedAchievement
	for _, a := range candidates {
		if a.CriteriaType != db.CriteriaChallengeCompleted {
			continue
		}
		if int(completed) < a.CriteriaValue {
			continue
		}
		unlockedInfo, err := s.unlock(ctx.UserID, a)
		if err != nil {
			return nil, err
		}
		if unlockedInfo != nil {
			results = append(results, *unlockedInfo)
		}
	}
	return results, nil
}

// lockedCandidates 返回目录中该用户尚未解锁的条目。
func (s *AchievementService) lockedCandidates(userID uint) ([]db.Achievement, error) {
	var achievements []db.Achievement
	if err := s.db.Find(&achievements).Error; err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}

	var unlocked []db.UserAchievement
	if err := s.db.Where("user_id = ?", userID).Find(&unlocked).Error; err != nil {
		return nil, fmt.Errorf("list user achievements: %w", err)
	}

	unlockedIDs := make(map[uint]struct{}, len(unlocked))
	for _, ua := range unlocked {
		unlockedIDs[ua.AchievementID] = struct{}{}
	}

	candidates := achievements[:0]
	for _, a := range achievements {
		if _, ok := unlockedIDs[a.ID]; !ok {
			candidates = append(candidates, a)
		}
	}
	return candidates, nil
}

func (s *AchievementService) completionCriteriaMet(a db.Achievement, ctx CompletionContext) (bool, error) {
	switch a.CriteriaType {
	case db.CriteriaStreak:
		return ctx.CurrentStreak >= a.CriteriaValue, nil

	case db.CriteriaTotalCompletions:
		var count int64
		if err := s.db.Model(&db.HabitCompletion{}).
			Where("habit_id = ?", ctx.HabitID).
			Count(&count).Error; err != nil {
			return false, fmt.Errorf("count completions: %w", err)
		}
		return int(count) >= a.CriteriaValue, nil

	case db.CriteriaHabitCount:
		var count int64
		if err := s.db.Model(&db.Habit{}).
			Where("user_id = ? AND is_active = ?", ctx.UserID, true).
			Count(&count).Error; err != nil {
			return false, fmt.Errorf("count habits: %w", err)
		}
		return int(count) >= a.CriteriaValue, nil

	case db.CriteriaPerfectDay:
		var habits int64
		if err := s.db.Model(&db.Habit{}).
			Where("user_id = ? AND is_active = ?", ctx.UserID, true).
			Count(&habits).Error; err != nil {
			return false, fmt.Errorf("count habits: %w", err)
		}
		var todayDone int64
		if err := s.db.Model(&db.HabitCompletion{}).
			Where("user_id = ? AND completed_date = ?", ctx.UserID, ctx.Today).
			Count(&todayDone).Error; err != nil {
			return false, fmt.Errorf("count today completions: %w", err)
		}
		return habits > 0 && todayDone >= habits, nil

	case db.CriteriaMorningStreak:
		var habit db.Habit
		if err := s.db.First(&habit, ctx.HabitID).Error; err != nil {
			return false, fmt.Errorf("load habit: %w", err)
		}
		if habit.TimeOfDay != db.TimeOfDayMorning {
			return false, nil
		}
		return ctx.CurrentStreak >= a.CriteriaValue, nil

	default:
		return false, nil
	}
}

// unlock 幂等地创建解锁记录并发放奖励。
// 唯一索引冲突表示已解锁（可能来自并发触发），静默跳过且不再次发 XP。
func (s *AchievementService) unlock(userID uint, a db.Achievement) (*UnlockedAchievement, error) {
	ua := db.UserAchievement{UserID: userID, AchievementID: a.ID}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ua)
	if result.Error != nil {
		return nil, fmt.Errorf("unlock achievement: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	refID := a.ID
	if _, err := s.gamification.AwardXp(userID, a.XpReward, db.XpSourceAchievement, &refID); err != nil {
		return nil, err
	}

	return &UnlockedAchievement{Achievement: a, XpAwarded: a.XpReward}, nil
}
