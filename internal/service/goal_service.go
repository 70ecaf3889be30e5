package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
)

// 目标奖励的统一封顶
const maxGoalXpReward = 300

// GoalService 负责阶段性目标：同一用户同时最多一个 active，
// 进度按类型分派计算，任何读取都会先做到期判定。
type GoalService struct {
	db           *gorm.DB
	clk          clock.Clock
	gamification *GamificationService
}

// CreateGoalInput 定义创建目标的字段
type CreateGoalInput struct {
	Type         string
	TargetValue  int
	DurationDays int
}

// GoalWithProgress 是目标与其当前进度的组合
type GoalWithProgress struct {
	Goal            db.Goal
	CurrentValue    int
	ProgressPercent int
}

// GoalCompletionResult 描述一次目标达成的结算
type GoalCompletionResult struct {
	Goal      db.Goal
	XpEarned  int
	LeveledUp bool
	NewLevel  int
}

// NewGoalService 构造 GoalService
func NewGoalService(gdb *gorm.DB, clk clock.Clock, gamification *GamificationService) *GoalService {
	return &GoalService{db: gdb, clk: clk, gamification: gamification}
}

// Create 新建目标。已有活跃目标时返回冲突，绝不静默覆盖。
func (s *GoalService) Create(userID uint, input CreateGoalInput) (*db.Goal, error) {
	if !validGoalType(input.Type) {
		return nil, fmt.Errorf("invalid goal type %q", input.Type)
	}
	if input.TargetValue <= 0 || input.DurationDays <= 0 {
		return nil, fmt.Errorf("target and duration must be positive")
	}

	var count int64
	if err := s.db.Model(&db.Goal{}).
		Where("user_id = ? AND status = ?", userID, db.GoalStatusActive).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check active goal: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: active goal already exists", ErrConflict)
	}

	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}
	today := clock.Today(s.clk, user.Timezone)

	goal := db.Goal{
		UserID:       userID,
		Type:         input.Type,
		TargetValue:  input.TargetValue,
		DurationDays: input.DurationDays,
		StartDate:    today,
		Deadline:     clock.AddDays(today, input.DurationDays-1),
		Status:       db.GoalStatusActive,
		XpReward:     goalXpReward(input.Type, input.TargetValue, input.DurationDays),
	}
	if err := s.db.Create(&goal).Error; err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}
	return &goal, nil
}

// GetActiveGoal 返回活跃目标及进度；已过期的目标先置为 failed 并返回 nil。
func (s *GoalService) GetActiveGoal(userID uint) (*GoalWithProgress, error) {
	goal, today, err := s.activeGoal(userID)
	if err != nil || goal == nil {
		return nil, err
	}

	current, err := s.calculateProgress(goal, userID, today)
	if err != nil {
		return nil, err
	}

	percent := 0
	if goal.TargetValue > 0 {
		percent = int(math.Round(float64(current) / float64(goal.TargetValue) * 100))
		if percent > 100 {
			percent = 100
		}
	}

	return &GoalWithProgress{Goal: *goal, CurrentValue: current, ProgressPercent: percent}, nil
}

// History 返回已结束（完成或失败）的目标，新的在前
func (s *GoalService) History(userID uint) ([]db.Goal, error) {
	var goals []db.Goal
	if err := s.db.Where("user_id = ? AND status IN ?", userID,
		[]string{db.GoalStatusCompleted, db.GoalStatusFailed}).
		Order("created_at DESC").
		Find(&goals).Error; err != nil {
		return nil, fmt.Errorf("list goal history: %w", err)
	}
	return goals, nil
}

// Abandon 主动放弃活跃目标，记为 failed
func (s *GoalService) Abandon(goalID, userID uint) (*db.Goal, error) {
	var goal db.Goal
	if err := s.db.Where("id = ? AND user_id = ? AND status = ?", goalID, userID, db.GoalStatusActive).
		First(&goal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: active goal %d", ErrNotFound, goalID)
		}
		return nil, fmt.Errorf("find goal: %w", err)
	}

	goal.Status = db.GoalStatusFailed
	if err := s.db.Save(&goal).Error; err != nil {
		return nil, fmt.Errorf("abandon goal: %w", err)
	}
	return &goal, nil
}

// CheckAfterCompletion 在习惯打卡后重估目标进度；达标则完成并发奖。
// total_xp 类型的目标 XpReward 恒为 0，不会从这里发出任何 XP。
func (s *GoalService) CheckAfterCompletion(userID uint) (*GoalCompletionResult, error) {
	goal, today, err := s.activeGoal(userID)
	if err != nil || goal == nil {
		return nil, err
	}

	current, err := s.calculateProgress(goal, userID, today)
	if err != nil {
		return nil, err
	}
	if current < goal.TargetValue {
		return nil, nil
	}

	goal.Status = db.GoalStatusCompleted
	now := s.clk.Now()
	goal.CompletedAt = &now
	if err := s.db.Save(goal).Error; err != nil {
		return nil, fmt.Errorf("complete goal: %w", err)
	}

	result := GoalCompletionResult{Goal: *goal, XpEarned: goal.XpReward}
	if goal.XpReward > 0 {
		refID := goal.ID
		xpResult, err := s.gamification.AwardXp(userID, goal.XpReward, db.XpSourceGoal, &refID)
		if err != nil {
			return nil, err
		}
		result.LeveledUp = xpResult.LeveledUp
		result.NewLevel = xpResult.NewLevel
	}
	return &result, nil
}

// activeGoal 取活跃目标并做到期判定；过期目标当场翻为 failed 且视同不存在。
func (s *GoalService) activeGoal(userID uint) (*db.Goal, string, error) {
	var goal db.Goal
	err := s.db.Where("user_id = ? AND status = ?", userID, db.GoalStatusActive).
		First(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("find active goal: %w", err)
	}

	user, err := s.loadUser(userID)
	if err != nil {
		return nil, "", err
	}
	today := clock.Today(s.clk, user.Timezone)

	if goal.Deadline < today {
		goal.Status = db.GoalStatusFailed
		if err := s.db.Save(&goal).Error; err != nil {
			return nil, "", fmt.Errorf("fail expired goal: %w", err)
		}
		return nil, "", nil
	}
	return &goal, today, nil
}

func (s *GoalService) calculateProgress(goal *db.Goal, userID uint, today string) (int, error) {
	switch goal.Type {
	case db.GoalTypeCompletionRate:
		return s.calcCompletionRate(userID, goal.StartDate, today)
	case db.GoalTypeStreakDays:
		return s.calcStreakDays(userID, goal.StartDate, today)
	case db.GoalTypeTotalXp:
		return s.calcTotalXp(userID, goal.StartDate)
	case db.GoalTypeTotalCompletions:
		return s.calcTotalCompletions(userID, goal.StartDate, today)
	default:
		return 0, fmt.Errorf("unknown goal type %q", goal.Type)
	}
}

func (s *GoalService) calcCompletionRate(userID uint, startDate, today string) (int, error) {
	var activeHabits int64
	if err := s.db.Model(&db.Habit{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&activeHabits).Error; err != nil {
		return 0, fmt.Errorf("count habits: %w", err)
	}
	if activeHabits == 0 {
		return 0, nil
	}

	var completions int64
	if err := s.db.Model(&db.HabitCompletion{}).
		Where("user_id = ? AND completed_date BETWEEN ? AND ?", userID, startDate, today).
		Count(&completions).Error; err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}

	totalPossible := int(activeHabits) * clock.DaysInclusive(startDate, today)
	if totalPossible == 0 {
		return 0, nil
	}
	return int(math.Round(float64(completions) / float64(totalPossible) * 100)), nil
}

// calcStreakDays 从今天起逆向数"完美日"：当天打卡数覆盖全部活跃习惯，
// 最早回看到 startDate，遇到第一个不完美的日子即止。
func (s *GoalService) calcStreakDays(userID uint, startDate, today string) (int, error) {
	var activeHabits int64
	if err := s.db.Model(&db.Habit{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&activeHabits).Error; err != nil {
		return 0, fmt.Errorf("count habits: %w", err)
	}
	if activeHabits == 0 {
		return 0, nil
	}

	type dayCount struct {
		Date string
		Cnt  int64
	}
	var rows []dayCount
	if err := s.db.Model(&db.HabitCompletion{}).
		Select("completed_date AS date, COUNT(*) AS cnt").
		Where("user_id = ? AND completed_date BETWEEN ? AND ?", userID, startDate, today).
		Group("completed_date").
		Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("group completions: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Date] = r.Cnt
	}

	streak := 0
	for current := today; current >= startDate; current = clock.AddDays(current, -1) {
		if counts[current] < activeHabits {
			break
		}
		streak++
	}
	return streak, nil
}

func (s *GoalService) calcTotalXp(userID uint, startDate string) (int, error) {
	start, err := time.Parse(clock.DateLayout, startDate)
	if err != nil {
		return 0, fmt.Errorf("parse start date: %w", err)
	}

	var total int64
	if err := s.db.Model(&db.XpTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND created_at >= ?", userID, start).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum xp: %w", err)
	}
	return int(total), nil
}

func (s *GoalService) calcTotalCompletions(userID uint, startDate, today string) (int, error) {
	var count int64
	if err := s.db.Model(&db.HabitCompletion{}).
		Where("user_id = ? AND completed_date BETWEEN ? AND ?", userID, startDate, today).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return int(count), nil
}

func (s *GoalService) loadUser(userID uint) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// goalXpReward 由类型/目标值/时长推出奖励并封顶 300。
// total_xp 永远是 0：用 XP 奖励"攒 XP"会自我通胀。
func goalXpReward(goalType string, targetValue, durationDays int) int {
	switch goalType {
	case db.GoalTypeCompletionRate:
		return minInt(int(math.Round(float64(targetValue)*float64(durationDays)/30)), maxGoalXpReward)
	case db.GoalTypeStreakDays:
		return minInt(targetValue*5, maxGoalXpReward)
	case db.GoalTypeTotalXp:
		return 0
	case db.GoalTypeTotalCompletions:
		return minInt(int(math.Round(float64(targetValue)*2)), maxGoalXpReward)
	default:
		return 0
	}
}

func validGoalType(goalType string) bool {
	switch goalType {
	case db.GoalTypeCompletionRate, db.GoalTypeStreakDays, db.GoalTypeTotalXp, db.GoalTypeTotalCompletions:
		return true
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
