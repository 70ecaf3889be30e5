package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
)

// StatsService 做打卡数据的只读聚合：概要、周报、热力图。
// 所有窗口都以用户时区的"今天"为锚点，按日历日期而非时间戳切分。
type StatsService struct {
	db  *gorm.DB
	clk clock.Clock
}

// DaySummary 是某一天的完成数对比当天应完成数
type DaySummary struct {
	Date      string
	Completed int
	Total     int
}

// StatsSummary 是首页概要：近 7/30 天完成数及上一周期对比
type StatsSummary struct {
	WeeklyCompletions    int
	MonthlyCompletions   int
	PrevWeekCompletions  int
	PrevMonthCompletions int
	WeeklyDays           []DaySummary
	CurrentActiveHabits  int
	BestStreakOverall    int
}

// HeatmapDay 是热力图的一格，Level 取 0..4
type HeatmapDay struct {
	Date  string
	Count int
	Level int
}

// HabitStats 是单个习惯的统计
type HabitStats struct {
	TotalCompletions  int
	WeeklyCompletions int
	Heatmap           []HeatmapDay
	WeeklyData        []DaySummary
}

// WeeklySummary 是上一个自然周（周一到周日）的回顾
type WeeklySummary struct {
	TotalCompletions int
	TotalPossible    int
	PerfectDays      int
	BestStreak       int
	XpEarned         int
	WeeklyDays       []DaySummary
}

// NewStatsService 构造 StatsService
func NewStatsService(gdb *gorm.DB, clk clock.Clock) *StatsService {
	return &StatsService{db: gdb, clk: clk}
}

// Summary 汇总近 7/30 天打卡数、上一周期对比和最近一周的逐日明细
func (s *StatsService) Summary(userID uint) (*StatsSummary, error) {
	today, err := s.today(userID)
	if err != nil {
		return nil, err
	}

	weekStart := clock.AddDays(today, -6)
	monthStart := clock.AddDays(today, -29)
	prevWeekStart := clock.AddDays(today, -13)
	prevMonthStart := clock.AddDays(today, -59)

	weekly, err := s.countCompletions(userID, 0, weekStart, today)
	if err != nil {
		return nil, err
	}
	monthly, err := s.countCompletions(userID, 0, monthStart, today)
	if err != nil {
		return nil, err
	}
	prevWeek, err := s.countCompletions(userID, 0, prevWeekStart, clock.AddDays(weekStart, -1))
	if err != nil {
		return nil, err
	}
	prevMonth, err := s.countCompletions(userID, 0, prevMonthStart, clock.AddDays(monthStart, -1))
	if err != nil {
		return nil, err
	}

	var habits []db.Habit
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).
		Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	bestStreak := 0
	for _, h := range habits {
		if h.BestStreak > bestStreak {
			bestStreak = h.BestStreak
		}
	}

	counts, err := s.countsByDate(userID, 0, weekStart, today)
	if err != nil {
		return nil, err
	}
	weeklyDays := make([]DaySummary, 0, 7)
	for date := weekStart; date <= today; date = clock.AddDays(date, 1) {
		weeklyDays = append(weeklyDays, DaySummary{
			Date:      date,
			Completed: counts[date],
			Total:     len(habits),
		})
	}

	return &StatsSummary{
		WeeklyCompletions:    weekly,
		MonthlyCompletions:   monthly,
		PrevWeekCompletions:  prevWeek,
		PrevMonthCompletions: prevMonth,
		WeeklyDays:           weeklyDays,
		CurrentActiveHabits:  len(habits),
		BestStreakOverall:    bestStreak,
	}, nil
}

// WeekDays 返回某个自然周（周一到周日）的逐日明细。
// offset 为 0 表示本周，-1 上一周，只允许非正值。
func (s *StatsService) WeekDays(userID uint, offset int) ([]DaySummary, error) {
	if offset > 0 {
		offset = 0
	}
	today, err := s.today(userID)
	if err != nil {
		return nil, err
	}
	monday := mondayOf(today)
	start := clock.AddDays(monday, offset*7)
	end := clock.AddDays(start, 6)

	var activeHabits int64
	if err := s.db.Model(&db.Habit{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&activeHabits).Error; err != nil {
		return nil, fmt.Errorf("count habits: %w", err)
	}

	counts, err := s.countsByDate(userID, 0, start, end)
	if err != nil {
		return nil, err
	}
	days := make([]DaySummary, 0, 7)
	for date := start; date <= end; date = clock.AddDays(date, 1) {
		days = append(days, DaySummary{Date: date, Completed: counts[date], Total: int(activeHabits)})
	}
	return days, nil
}

// LastWeekSummary 回顾上一个完整自然周：完成量、完美日、周内获得的 XP
func (s *StatsService) LastWeekSummary(userID uint) (*WeeklySummary, error) {
	today, err := s.today(userID)
	if err != nil {
		return nil, err
	}
	thisMonday := mondayOf(today)
	lastMonday := clock.AddDays(thisMonday, -7)
	lastSunday := clock.AddDays(thisMonday, -1)

	var activeHabits []db.Habit
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).
		Find(&activeHabits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	totalHabits := len(activeHabits)
	bestStreak := 0
	for _, h := range activeHabits {
		if h.BestStreak > bestStreak {
			bestStreak = h.BestStreak
		}
	}

	counts, err := s.countsByDate(userID, 0, lastMonday, lastSunday)
	if err != nil {
		return nil, err
	}

	totalCompletions := 0
	perfectDays := 0
	weeklyDays := make([]DaySummary, 0, 7)
	for date := lastMonday; date <= lastSunday; date = clock.AddDays(date, 1) {
		completed := counts[date]
		totalCompletions += completed
		weeklyDays = append(weeklyDays, DaySummary{Date: date, Completed: completed, Total: totalHabits})
		if totalHabits > 0 && completed >= totalHabits {
			perfectDays++
		}
	}

	xpEarned, err := s.sumXpBetween(userID, lastMonday, thisMonday)
	if err != nil {
		return nil, err
	}

	return &WeeklySummary{
		TotalCompletions: totalCompletions,
		TotalPossible:    totalHabits * 7,
		PerfectDays:      perfectDays,
		BestStreak:       bestStreak,
		XpEarned:         xpEarned,
		WeeklyDays:       weeklyDays,
	}, nil
}

// Heatmap 返回近 months 个月（按 30 天折算，钳位 1..12）的逐日打卡热力图。
// Level 按当日计数相对窗口内最大值的比例分档。
func (s *StatsService) Heatmap(userID uint, months int) ([]HeatmapDay, error) {
	if months < 1 {
		months = 1
	}
	if months > 12 {
		months = 12
	}

	today, err := s.today(userID)
	if err != nil {
		return nil, err
	}
	totalDays := months * 30
	start := clock.AddDays(today, -totalDays)

	counts, err := s.countsByDate(userID, 0, start, today)
	if err != nil {
		return nil, err
	}
	maxCount := 1
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	heatmap := make([]HeatmapDay, 0, totalDays+1)
	for date := start; date <= today; date = clock.AddDays(date, 1) {
		count := counts[date]
		heatmap = append(heatmap, HeatmapDay{Date: date, Count: count, Level: heatmapLevel(count, maxCount)})
	}
	return heatmap, nil
}

// HabitStats 返回单个习惯的累计/近一周完成数和 90 天二值热力图
func (s *StatsService) HabitStats(habitID, userID uint) (*HabitStats, error) {
	var habit db.Habit
	if err := s.db.Where("id = ? AND user_id = ?", habitID, userID).
		First(&habit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: habit %d", ErrNotFound, habitID)
		}
		return nil, fmt.Errorf("find habit: %w", err)
	}

	today, err := s.today(userID)
	if err != nil {
		return nil, err
	}
	weekStart := clock.AddDays(today, -6)
	windowStart := clock.AddDays(today, -90)

	var total int64
	if err := s.db.Model(&db.HabitCompletion{}).
		Where("habit_id = ? AND user_id = ?", habitID, userID).
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count completions: %w", err)
	}
	weekly, err := s.countCompletions(userID, habitID, weekStart, today)
	if err != nil {
		return nil, err
	}

	counts, err := s.countsByDate(userID, habitID, windowStart, today)
	if err != nil {
		return nil, err
	}

	heatmap := make([]HeatmapDay, 0, 91)
	for date := windowStart; date <= today; date = clock.AddDays(date, 1) {
		level := 0
		if counts[date] > 0 {
			level = 4
		}
		heatmap = append(heatmap, HeatmapDay{Date: date, Count: counts[date], Level: level})
	}

	weeklyData := make([]DaySummary, 0, 7)
	for date := weekStart; date <= today; date = clock.AddDays(date, 1) {
		weeklyData = append(weeklyData, DaySummary{Date: date, Completed: counts[date], Total: 1})
	}

	return &HabitStats{
		TotalCompletions:  int(total),
		WeeklyCompletions: weekly,
		Heatmap:           heatmap,
		WeeklyData:        weeklyData,
	}, nil
}

func (s *StatsService) today(userID uint) (string, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	return clock.Today(s.clk, user.Timezone), nil
}

// countCompletions 数用户在 [start, end] 内的打卡数，habitID 为 0 时不限习惯
func (s *StatsService) countCompletions(userID, habitID uint, start, end string) (int, error) {
	query := s.db.Model(&db.HabitCompletion{}).
		Where("user_id = ? AND completed_date BETWEEN ? AND ?", userID, start, end)
	if habitID != 0 {
		query = query.Where("habit_id = ?", habitID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return int(count), nil
}

// countsByDate 按日期分组数打卡数，habitID 为 0 时不限习惯
func (s *StatsService) countsByDate(userID, habitID uint, start, end string) (map[string]int, error) {
	type dayCount struct {
		Date string
		Cnt  int
	}
	query := s.db.Model(&db.HabitCompletion{}).
		Select("completed_date AS date, COUNT(*) AS cnt").
		Where("user_id = ? AND completed_date BETWEEN ? AND ?", userID, start, end)
	if habitID != 0 {
		query = query.Where("habit_id = ?", habitID)
	}
	var rows []dayCount
	if err := query.Group("completed_date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("group completions: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Date] = r.Cnt
	}
	return counts, nil
}

// sumXpBetween 汇总 [startDate, endDate) 期间入账的 XP，按台账时间戳切
func (s *StatsService) sumXpBetween(userID uint, startDate, endDate string) (int, error) {
	start, err := time.Parse(clock.DateLayout, startDate)
	if err != nil {
		return 0, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse(clock.DateLayout, endDate)
	if err != nil {
		return 0, fmt.Errorf("parse end date: %w", err)
	}

	var total int64
	if err := s.db.Model(&db.XpTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum xp: %w", err)
	}
	return int(total), nil
}

// mondayOf 返回 date 所在自然周的周一
func mondayOf(date string) string {
	t, err := time.Parse(clock.DateLayout, date)
	if err != nil {
		return date
	}
	offset := int(t.Weekday()) - 1
	if t.Weekday() == time.Sunday {
		offset = 6
	}
	return clock.AddDays(date, -offset)
}

func heatmapLevel(count, maxCount int) int {
	if count == 0 {
		return 0
	}
	ratio := float64(count) / float64(maxCount)
	switch {
	case ratio <= 0.25:
		return 1
	case ratio <= 0.5:
		return 2
	case ratio <= 0.75:
		return 3
	default:
		return 4
	}
}
