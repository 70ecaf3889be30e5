package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
)

type goalRequest struct {
	Type         string `json:"type" binding:"required"`
	TargetValue  int    `json:"targetValue" binding:"required"`
	DurationDays int    `json:"durationDays" binding:"required"`
}

// CreateGoal 新建目标；同一用户同时只能有一个活跃目标
func (a *API) CreateGoal(c *gin.Context) {
	var req goalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type, targetValue and durationDays are required"})
		return
	}

	goal, err := a.goals.Create(currentUserID(c), service.CreateGoalInput{
		Type:         req.Type,
		TargetValue:  req.TargetValue,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"goal": goalView(*goal)})
}

// GetActiveGoal 返回活跃目标及其实时进度；过期目标在读取时自动判失败
func (a *API) GetActiveGoal(c *gin.Context) {
	goal, err := a.goals.GetActiveGoal(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	if goal == nil {
		c.JSON(http.StatusOK, gin.H{"goal": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"goal":            goalView(goal.Goal),
		"currentValue":    goal.CurrentValue,
		"progressPercent": goal.ProgressPercent,
	})
}

// GoalHistory 返回历史目标，按创建时间倒序
func (a *API) GoalHistory(c *gin.Context) {
	goals, err := a.goals.History(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(goals))
	for _, g := range goals {
		views = append(views, goalView(g))
	}
	c.JSON(http.StatusOK, gin.H{"goals": views})
}

// AbandonGoal 放弃当前目标
func (a *API) AbandonGoal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	goal, err := a.goals.Abandon(id, currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goalView(*goal)})
}
