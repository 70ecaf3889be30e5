package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
)

func daySummaryViews(days []service.DaySummary) []gin.H {
	views := make([]gin.H, 0, len(days))
	for _, d := range days {
		views = append(views, gin.H{"date": d.Date, "completed": d.Completed, "total": d.Total})
	}
	return views
}

func heatmapViews(days []service.HeatmapDay) []gin.H {
	views := make([]gin.H, 0, len(days))
	for _, d := range days {
		views = append(views, gin.H{"date": d.Date, "count": d.Count, "level": d.Level})
	}
	return views
}

// StatsSummary 返回首页概要：近 7/30 天完成数、上一周期对比、最佳连胜
func (a *API) StatsSummary(c *gin.Context) {
	summary, err := a.stats.Summary(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"weeklyCompletions":    summary.WeeklyCompletions,
		"monthlyCompletions":   summary.MonthlyCompletions,
		"prevWeekCompletions":  summary.PrevWeekCompletions,
		"prevMonthCompletions": summary.PrevMonthCompletions,
		"weeklyDays":           daySummaryViews(summary.WeeklyDays),
		"currentActiveHabits":  summary.CurrentActiveHabits,
		"bestStreakOverall":    summary.BestStreakOverall,
	})
}

// StatsWeek 返回某个自然周的逐日明细，offset 非正，0 为本周
func (a *API) StatsWeek(c *gin.Context) {
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed < 0 {
			offset = parsed
		}
	}

	days, err := a.stats.WeekDays(currentUserID(c), offset)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": daySummaryViews(days)})
}

// StatsWeeklySummary 返回上一个完整自然周的回顾
func (a *API) StatsWeeklySummary(c *gin.Context) {
	summary, err := a.stats.LastWeekSummary(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totalCompletions": summary.TotalCompletions,
		"totalPossible":    summary.TotalPossible,
		"perfectDays":      summary.PerfectDays,
		"bestStreak":       summary.BestStreak,
		"xpEarned":         summary.XpEarned,
		"weeklyDays":       daySummaryViews(summary.WeeklyDays),
	})
}

// StatsHeatmap 返回近几个月的逐日热力图，months 钳位 1..12，默认 3
func (a *API) StatsHeatmap(c *gin.Context) {
	months := 3
	if raw := c.Query("months"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			months = parsed
		}
	}

	heatmap, err := a.stats.Heatmap(currentUserID(c), months)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"heatmap": heatmapViews(heatmap)})
}

// StatsHabit 返回单个习惯的统计
func (a *API) StatsHabit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	stats, err := a.stats.HabitStats(id, currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalCompletions":  stats.TotalCompletions,
		"weeklyCompletions": stats.WeeklyCompletions,
		"heatmap":           heatmapViews(stats.Heatmap),
		"weeklyData":        daySummaryViews(stats.WeeklyData),
	})
}
