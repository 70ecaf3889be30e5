package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 每次习惯打卡的基础 XP
const xpPerCompletion = 10

// HabitService 负责习惯的增删改查与打卡的连胜/冻结结算。
// 连胜状态按习惯维护，冻结是用户级资源，跨习惯共享：
// 同一天内第一个消耗冻结的习惯记下 lastFreezeUsedDate，
// 之后打卡的其它习惯凭该日期免费续连胜。
type HabitService struct {
	db           *gorm.DB
	clk          clock.Clock
	gamification *GamificationService
	achievements *AchievementService
}

// HabitInput 定义创建/更新习惯时可配置字段
type HabitInput struct {
	Name        string
	Description string
	Icon        string
	Color       string
	Frequency   string
	TimeOfDay   string
	SortOrder   int
	IsActive    *bool
}

// CompletionResult 汇总一次打卡的全部结算结果
type CompletionResult struct {
	Completion           db.HabitCompletion
	Habit                db.Habit
	XpEarned             int
	StreakBonusXp        int
	FreezeConsumed       bool
	LeveledUp            bool
	NewLevel             int
	UnlockedAchievements []UnlockedAchievement
}

// NewHabitService 构造 HabitService
func NewHabitService(gdb *gorm.DB, clk clock.Clock, gamification *GamificationService, achievements *AchievementService) *HabitService {
	return &HabitService{db: gdb, clk: clk, gamification: gamification, achievements: achievements}
}

// List 返回用户的活跃习惯，按排序字段与创建时间排列
func (s *HabitService) List(userID uint) ([]db.Habit, error) {
	var habits []db.Habit
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("sort_order ASC, created_at ASC").
		Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return habits, nil
}

// Get 根据 ID 获取习惯，归属校验包含在查询条件里
func (s *HabitService) Get(id, userID uint) (*db.Habit, error) {
	var habit db.Habit
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&habit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: habit %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get habit: %w", err)
	}
	return &habit, nil
}

// Create 新建习惯，随后评估 habit_count 类成就
func (s *HabitService) Create(userID uint, input HabitInput) (*db.Habit, []UnlockedAchievement, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, nil, fmt.Errorf("habit name is required")
	}

	habit := db.Habit{
		UserID:      userID,
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		Icon:        input.Icon,
		Color:       input.Color,
		Frequency:   normalizeFrequency(input.Frequency),
		TimeOfDay:   normalizeTimeOfDay(input.TimeOfDay),
		SortOrder:   input.SortOrder,
		IsActive:    true,
	}

	if err := s.db.Create(&habit).Error; err != nil {
		return nil, nil, fmt.Errorf("create habit: %w", err)
	}

	unlocked, err := s.achievements.CheckAfterHabitCreated(userID)
	if err != nil {
		return nil, nil, err
	}

	return &habit, unlocked, nil
}

// Update 更新习惯配置
func (s *HabitService) Update(id, userID uint, input HabitInput) (*db.Habit, error) {
	habit, err := s.Get(id, userID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Name) != "" {
		habit.Name = strings.TrimSpace(input.Name)
	}
	habit.Description = strings.TrimSpace(input.Description)
	if input.Icon != "" {
		habit.Icon = input.Icon
	}
	if input.Color != "" {
		habit.Color = input.Color
	}
	if input.Frequency != "" {
		habit.Frequency = normalizeFrequency(input.Frequency)
	}
	if input.TimeOfDay != "" {
		habit.TimeOfDay = normalizeTimeOfDay(input.TimeOfDay)
	}
	habit.SortOrder = input.SortOrder
	if input.IsActive != nil {
		habit.IsActive = *input.IsActive
	}

	if err := s.db.Save(habit).Error; err != nil {
		return nil, fmt.Errorf("update habit: %w", err)
	}
	return habit, nil
}

// Delete 硬删习惯及其全部打卡记录。
// 不依赖外键级联：SQLite 的级联受 pragma 开关影响，显式删更可靠。
func (s *HabitService) Delete(id, userID uint) error {
	habit, err := s.Get(id, userID)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("habit_id = ?", id).
			Delete(&db.HabitCompletion{}).Error; err != nil {
			return fmt.Errorf("delete completions: %w", err)
		}
		if err := tx.Unscoped().Delete(habit).Error; err != nil {
			return fmt.Errorf("delete habit: %w", err)
		}
		return nil
	})
}

// Complete 为"今天"打卡并结算连胜、冻结与 XP。
// 习惯行、用户行与新的打卡记录在同一事务内落库；
// 用户行加行锁，避免同日两个习惯并发打卡时双花冻结。
func (s *HabitService) Complete(id, userID uint, note string) (*CompletionResult, error) {
	var (
		habit          db.Habit
		completion     db.HabitCompletion
		today          string
		freezeConsumed bool
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %d", ErrNotFound, userID)
			}
			return fmt.Errorf("load user: %w", err)
		}

		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&habit).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: habit %d", ErrNotFound, id)
			}
			return fmt.Errorf("load habit: %w", err)
		}

		today = clock.Today(s.clk, user.Timezone)

		var existing db.HabitCompletion
		err := tx.Where("habit_id = ? AND completed_date = ?", id, today).First(&existing).Error
		if err == nil {
			return fmt.Errorf("%w: habit %d already completed on %s", ErrConflict, id, today)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check completion: %w", err)
		}

		yesterday := clock.AddDays(today, -1)

		var yesterdayDone int64
		if err := tx.Model(&db.HabitCompletion{}).
			Where("habit_id = ? AND completed_date = ?", id, yesterday).
			Count(&yesterdayDone).Error; err != nil {
			return fmt.Errorf("check yesterday: %w", err)
		}

		var newStreak int
		switch {
		case yesterdayDone > 0:
			// 昨天完成，连胜直接延续
			newStreak = habit.CurrentStreak + 1
		case user.LastFreezeUsedDate != nil && *user.LastFreezeUsedDate == yesterday:
			// 另一个习惯已为昨天消耗过冻结，本习惯搭车续连胜
			newStreak = habit.CurrentStreak + 1
		case habit.CurrentStreak > 0 && user.StreakFreezes > 0:
			// 消耗一枚冻结补上昨天的缺口
			newStreak = habit.CurrentStreak + 1
			user.StreakFreezes--
			d := yesterday
			user.LastFreezeUsedDate = &d
			freezeConsumed = true
		default:
			newStreak = 1
		}

		habit.CurrentStreak = newStreak
		if newStreak > habit.BestStreak {
			habit.BestStreak = newStreak
		}

		// 每满 7 天连胜回充一枚冻结，上限 3
		if newStreak > 0 && newStreak%7 == 0 && user.StreakFreezes < 3 {
			user.StreakFreezes++
		}

		completion = db.HabitCompletion{
			HabitID:       id,
			UserID:        userID,
			CompletedDate: today,
			Note:          strings.TrimSpace(note),
			XpEarned:      xpPerCompletion + GetStreakBonus(newStreak),
		}
		if err := tx.Create(&completion).Error; err != nil {
			// 唯一索引兜底并发下的同日重复打卡
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: habit %d already completed on %s", ErrConflict, id, today)
			}
			return fmt.Errorf("create completion: %w", err)
		}

		if err := tx.Save(&habit).Error; err != nil {
			return fmt.Errorf("save habit: %w", err)
		}
		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	streakBonus := GetStreakBonus(habit.CurrentStreak)
	refID := id
	xpResult, err := s.gamification.AwardXp(userID, xpPerCompletion+streakBonus, db.XpSourceHabitComplete, &refID)
	if err != nil {
		return nil, err
	}

	unlocked, err := s.achievements.CheckAfterCompletion(CompletionContext{
		UserID:        userID,
		HabitID:       id,
		CurrentStreak: habit.CurrentStreak,
		Today:         today,
	})
	if err != nil {
		return nil, err
	}

	return &CompletionResult{
		Completion:           completion,
		Habit:                habit,
		XpEarned:             xpPerCompletion,
		StreakBonusXp:        streakBonus,
		FreezeConsumed:       freezeConsumed,
		LeveledUp:            xpResult.LeveledUp,
		NewLevel:             xpResult.NewLevel,
		UnlockedAchievements: unlocked,
	}, nil
}

// Uncomplete 删除某天的打卡并从头重算连胜。
// 重算只数从今天起连续的打卡日，不重建冻结带来的续接，
// 与正向路径刻意不对称；已发放的 XP 不回收。
func (s *HabitService) Uncomplete(id, userID uint, date string) (*db.Habit, error) {
	habit, err := s.Get(id, userID)
	if err != nil {
		return nil, err
	}

	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	var completion db.HabitCompletion
	if err := s.db.Where("habit_id = ? AND completed_date = ?", id, date).
		First(&completion).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: completion for %s", ErrNotFound, date)
		}
		return nil, fmt.Errorf("find completion: %w", err)
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&completion).Error; err != nil {
			return fmt.Errorf("delete completion: %w", err)
		}

		today := clock.Today(s.clk, user.Timezone)
		streak, err := s.recalculateStreak(tx, id, today)
		if err != nil {
			return err
		}

		habit.CurrentStreak = streak
		if err := tx.Save(habit).Error; err != nil {
			return fmt.Errorf("save habit: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return habit, nil
}

// TodayCompletions 返回用户今天（按其时区）的全部打卡
func (s *HabitService) TodayCompletions(userID uint) ([]db.HabitCompletion, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	today := clock.Today(s.clk, user.Timezone)
	var completions []db.HabitCompletion
	if err := s.db.Where("user_id = ? AND completed_date = ?", userID, today).
		Find(&completions).Error; err != nil {
		return nil, fmt.Errorf("list today completions: %w", err)
	}
	return completions, nil
}

// ListCompletions 返回指定区间内该习惯的打卡记录
func (s *HabitService) ListCompletions(id, userID uint, start, end string) ([]db.HabitCompletion, error) {
	if _, err := s.Get(id, userID); err != nil {
		return nil, err
	}

	var completions []db.HabitCompletion
	if err := s.db.Where("habit_id = ? AND completed_date BETWEEN ? AND ?", id, start, end).
		Order("completed_date ASC").
		Find(&completions).Error; err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return completions, nil
}

// recalculateStreak 从今天起逆向数连续打卡日，最多回看 365 天。
func (s *HabitService) recalculateStreak(tx *gorm.DB, habitID uint, today string) (int, error) {
	var completions []db.HabitCompletion
	if err := tx.Where("habit_id = ?", habitID).
		Order("completed_date DESC").
		Limit(365).
		Find(&completions).Error; err != nil {
		return 0, fmt.Errorf("load completions: %w", err)
	}

	streak := 0
	expected := today
	for _, c := range completions {
		if c.CompletedDate != expected {
			break
		}
		streak++
		expected = clock.AddDays(expected, -1)
	}
	return streak, nil
}

func normalizeFrequency(frequency string) string {
	switch strings.TrimSpace(strings.ToLower(frequency)) {
	case "weekly":
		return "weekly"
	case "custom":
		return "custom"
	default:
		return "daily"
	}
}

func normalizeTimeOfDay(timeOfDay string) string {
	switch strings.TrimSpace(strings.ToLower(timeOfDay)) {
	case db.TimeOfDayMorning:
		return db.TimeOfDayMorning
	case db.TimeOfDayAfternoon:
		return db.TimeOfDayAfternoon
	case db.TimeOfDayEvening:
		return db.TimeOfDayEvening
	default:
		return db.TimeOfDayAnytime
	}
}
