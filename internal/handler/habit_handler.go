package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/middleware"
	"github.com/habitflow/internal/notify"
	"github.com/habitflow/internal/service"
	"go.uber.org/zap"
)

type habitRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Frequency   string `json:"frequency"`
	TimeOfDay   string `json:"timeOfDay"`
	SortOrder   int    `json:"sortOrder"`
}

type habitUpdateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Frequency   string `json:"frequency"`
	TimeOfDay   string `json:"timeOfDay"`
	SortOrder   int    `json:"sortOrder"`
	IsActive    *bool  `json:"isActive"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type uncompleteRequest struct {
	Date string `json:"date" binding:"required"`
}

// ListHabits 返回当前用户的活跃习惯
func (a *API) ListHabits(c *gin.Context) {
	habits, err := a.habits.List(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(habits))
	for _, h := range habits {
		views = append(views, habitView(h))
	}
	c.JSON(http.StatusOK, gin.H{"habits": views})
}

// GetHabit 返回单个习惯
func (a *API) GetHabit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	habit, err := a.habits.Get(id, currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit": habitView(*habit)})
}

// CreateHabit 新建习惯，可能顺带解锁 habit_count 类成就
func (a *API) CreateHabit(c *gin.Context) {
	var req habitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	userID := currentUserID(c)
	habit, unlocked, err := a.habits.Create(userID, service.HabitInput{
		Name:        req.Name,
		Description: req.Description,
		Icon:        req.Icon,
		Color:       req.Color,
		Frequency:   req.Frequency,
		TimeOfDay:   req.TimeOfDay,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}

	a.notifyAchievements(userID, unlocked)
	c.JSON(http.StatusCreated, gin.H{
		"habit":                habitView(*habit),
		"unlockedAchievements": unlockedViews(unlocked),
	})
}

// UpdateHabit 更新习惯字段
func (a *API) UpdateHabit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req habitUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	habit, err := a.habits.Update(id, currentUserID(c), service.HabitInput{
		Name:        req.Name,
		Description: req.Description,
		Icon:        req.Icon,
		Color:       req.Color,
		Frequency:   req.Frequency,
		TimeOfDay:   req.TimeOfDay,
		SortOrder:   req.SortOrder,
		IsActive:    req.IsActive,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit": habitView(*habit)})
}

// DeleteHabit 删除习惯及其全部打卡记录
func (a *API) DeleteHabit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := a.habits.Delete(id, currentUserID(c)); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "habit deleted"})
}

// CompleteHabit 打卡。结算 XP、连胜、冻结与成就后再评估活跃目标进度。
func (a *API) CompleteHabit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req noteRequest
	_ = c.ShouldBindJSON(&req)

	userID := currentUserID(c)
	result, err := a.habits.Complete(id, userID, req.Note)
	if err != nil {
		a.respondError(c, err)
		return
	}

	middleware.XpAwarded.WithLabelValues(db.XpSourceHabitComplete).Add(float64(result.XpEarned))

	if result.LeveledUp {
		a.notifyLevelUp(userID, result.NewLevel)
	}
	a.notifyAchievements(userID, result.UnlockedAchievements)

	// 目标进度是打卡的副产物，失败不影响打卡结果
	goalResult, err := a.goals.CheckAfterCompletion(userID)
	if err != nil {
		a.logger.Warn("goal progress check failed", withRequestID(c, err)...)
		goalResult = nil
	}

	resp := gin.H{
		"completion":           completionView(result.Completion),
		"habit":                habitView(result.Habit),
		"xpEarned":             result.XpEarned,
		"streakBonusXp":        result.StreakBonusXp,
		"freezeConsumed":       result.FreezeConsumed,
		"leveledUp":            result.LeveledUp,
		"newLevel":             result.NewLevel,
		"unlockedAchievements": unlockedViews(result.UnlockedAchievements),
	}
	if goalResult != nil {
		middleware.XpAwarded.WithLabelValues(db.XpSourceGoal).Add(float64(goalResult.XpEarned))
		resp["goalCompleted"] = gin.H{
			"goal":     goalView(goalResult.Goal),
			"xpEarned": goalResult.XpEarned,
		}
		if goalResult.LeveledUp {
			a.notifyLevelUp(userID, goalResult.NewLevel)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// UncompleteHabit 撤销某天的打卡并重算连胜，不回收已发放的 XP
func (a *API) UncompleteHabit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req uncompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date is required"})
		return
	}

	habit, err := a.habits.Uncomplete(id, currentUserID(c), req.Date)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit": habitView(*habit)})
}

// TodayCompletions 返回当前用户今天的全部打卡
func (a *API) TodayCompletions(c *gin.Context) {
	completions, err := a.habits.TodayCompletions(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(completions))
	for _, comp := range completions {
		views = append(views, completionView(comp))
	}
	c.JSON(http.StatusOK, gin.H{"completions": views})
}

// ListHabitCompletions 返回习惯在指定日期区间内的打卡记录
func (a *API) ListHabitCompletions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	completions, err := a.habits.ListCompletions(id, currentUserID(c), c.Query("start"), c.Query("end"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(completions))
	for _, comp := range completions {
		views = append(views, completionView(comp))
	}
	c.JSON(http.StatusOK, gin.H{"completions": views})
}

// notifyLevelUp 异步发送升级提醒，通知失败只记日志
func (a *API) notifyLevelUp(userID uint, level int) {
	if a.notifier == nil || !a.notifier.Enabled() {
		return
	}
	user, err := a.auth.GetUser(userID)
	if err != nil {
		a.logger.Warn("load user for notify failed", zap.Error(err))
		return
	}
	go func() {
		if err := a.notifier.SendMessage(user.TelegramID, notify.LevelUpMessage(user.FirstName, level)); err != nil {
			a.logger.Warn("level up notify failed", zap.Error(err))
		}
	}()
}

// notifyAchievements 异步发送成就解锁提醒
func (a *API) notifyAchievements(userID uint, unlocked []service.UnlockedAchievement) {
	if a.notifier == nil || !a.notifier.Enabled() || len(unlocked) == 0 {
		return
	}
	user, err := a.auth.GetUser(userID)
	if err != nil {
		a.logger.Warn("load user for notify failed", zap.Error(err))
		return
	}
	go func() {
		for _, u := range unlocked {
			if err := a.notifier.SendMessage(user.TelegramID, notify.AchievementMessage(u.Achievement.Name, u.XpAwarded)); err != nil {
				a.logger.Warn("achievement notify failed", zap.Error(err))
			}
		}
	}()
}
