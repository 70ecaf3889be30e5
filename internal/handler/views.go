package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/service"
)

// 视图层只负责挑选对客户端可见的字段，不做任何业务计算

func userView(u db.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"telegramId":    u.TelegramID,
		"username":      u.Username,
		"firstName":     u.FirstName,
		"lastName":      u.LastName,
		"photoUrl":      u.PhotoURL,
		"xp":            u.XP,
		"level":         u.Level,
		"streakFreezes": u.StreakFreezes,
		"timezone":      u.Timezone,
	}
}

func habitView(h db.Habit) gin.H {
	return gin.H{
		"id":            h.ID,
		"name":          h.Name,
		"description":   h.Description,
		"icon":          h.Icon,
		"color":         h.Color,
		"frequency":     h.Frequency,
		"timeOfDay":     h.TimeOfDay,
		"currentStreak": h.CurrentStreak,
		"bestStreak":    h.BestStreak,
		"sortOrder":     h.SortOrder,
		"isActive":      h.IsActive,
		"createdAt":     h.CreatedAt,
	}
}

func completionView(c db.HabitCompletion) gin.H {
	return gin.H{
		"id":            c.ID,
		"habitId":       c.HabitID,
		"completedDate": c.CompletedDate,
		"note":          c.Note,
		"xpEarned":      c.XpEarned,
	}
}

func challengeView(c db.Challenge) gin.H {
	return gin.H{
		"id":            c.ID,
		"title":         c.Title,
		"description":   c.Description,
		"icon":          c.Icon,
		"color":         c.Color,
		"durationDays":  c.DurationDays,
		"allowedMisses": c.AllowedMisses,
		"startDate":     c.StartDate,
		"endDate":       c.EndDate,
		"status":        c.Status,
		"completedDays": c.CompletedDays,
		"missedDays":    c.MissedDays,
		"currentStreak": c.CurrentStreak,
		"bestStreak":    c.BestStreak,
		"completedAt":   c.CompletedAt,
		"abandonReason": c.AbandonReason,
		"createdAt":     c.CreatedAt,
	}
}

func challengeDayView(d db.ChallengeDay) gin.H {
	return gin.H{
		"id":       d.ID,
		"dayDate":  d.DayDate,
		"status":   d.Status,
		"note":     d.Note,
		"xpEarned": d.XpEarned,
	}
}

func goalView(g db.Goal) gin.H {
	return gin.H{
		"id":           g.ID,
		"type":         g.Type,
		"targetValue":  g.TargetValue,
		"durationDays": g.DurationDays,
		"startDate":    g.StartDate,
		"deadline":     g.Deadline,
		"status":       g.Status,
		"xpReward":     g.XpReward,
		"completedAt":  g.CompletedAt,
	}
}

func unlockedViews(unlocked []service.UnlockedAchievement) []gin.H {
	views := make([]gin.H, 0, len(unlocked))
	for _, u := range unlocked {
		views = append(views, gin.H{
			"key":         u.Achievement.Key,
			"name":        u.Achievement.Name,
			"description": u.Achievement.Description,
			"icon":        u.Achievement.Icon,
			"xpAwarded":   u.XpAwarded,
		})
	}
	return views
}
