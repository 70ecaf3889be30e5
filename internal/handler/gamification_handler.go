package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetProfile 返回当前用户的等级进度
func (a *API) GetProfile(c *gin.Context) {
	profile, err := a.gamification.GetProfile(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"xp":                profile.XP,
		"level":             profile.Level,
		"xpForCurrentLevel": profile.XpForCurrentLevel,
		"xpForNextLevel":    profile.XpForNextLevel,
		"progressPercent":   profile.ProgressPercent,
		"streakFreezes":     profile.StreakFreezes,
	})
}

// ListAchievements 返回成就目录及当前用户的解锁状态
func (a *API) ListAchievements(c *gin.Context) {
	statuses, err := a.achievements.ListForUser(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, gin.H{
			"key":           s.Achievement.Key,
			"name":          s.Achievement.Name,
			"description":   s.Achievement.Description,
			"icon":          s.Achievement.Icon,
			"category":      s.Achievement.Category,
			"criteriaType":  s.Achievement.CriteriaType,
			"criteriaValue": s.Achievement.CriteriaValue,
			"xpReward":      s.Achievement.XpReward,
			"unlocked":      s.Unlocked,
			"unlockedAt":    s.UnlockedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"achievements": views})
}
