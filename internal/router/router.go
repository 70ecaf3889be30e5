package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/handler"
	"github.com/habitflow/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: 86400 * 30, HttpOnly: true})
	r.Use(sessions.Sessions("habitflow_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 认证入口不要求会话
	r.POST("/api/auth/telegram", api.AuthenticateTelegram)

	// 需要认证的 API 路由
	auth := r.Group("/api")
	auth.Use(handler.AuthRequired())
	{
		auth.POST("/auth/logout", api.Logout)
		auth.GET("/me", api.GetMe)
		auth.PUT("/me/timezone", api.UpdateTimezone)
		auth.GET("/me/profile", api.GetProfile)

		auth.GET("/habits", api.ListHabits)
		auth.POST("/habits", api.CreateHabit)
		auth.GET("/habits/today", api.TodayCompletions)
		auth.GET("/habits/:id", api.GetHabit)
		auth.PUT("/habits/:id", api.UpdateHabit)
		auth.DELETE("/habits/:id", api.DeleteHabit)
		auth.POST("/habits/:id/complete", api.CompleteHabit)
		auth.POST("/habits/:id/uncomplete", api.UncompleteHabit)
		auth.GET("/habits/:id/completions", api.ListHabitCompletions)

		auth.GET("/achievements", api.ListAchievements)

		auth.GET("/challenges", api.ListChallenges)
		auth.POST("/challenges", api.CreateChallenge)
		auth.POST("/challenges/join", api.JoinChallenge)
		auth.GET("/challenges/:id", api.GetChallenge)
		auth.PUT("/challenges/:id", api.UpdateChallenge)
		auth.DELETE("/challenges/:id", api.DeleteChallenge)
		auth.POST("/challenges/:id/check-in", api.CheckInChallenge)
		auth.POST("/challenges/:id/undo-check-in", api.UndoCheckInChallenge)
		auth.POST("/challenges/:id/abandon", api.AbandonChallenge)
		auth.POST("/challenges/:id/invite-code", api.GenerateInviteCode)
		auth.DELETE("/challenges/:id/invite-code", api.RevokeInviteCode)
		auth.POST("/challenges/:id/leave", api.LeaveChallenge)
		auth.GET("/challenges/:id/leaderboard", api.ChallengeLeaderboard)

		auth.GET("/friends", api.ListFriends)
		auth.GET("/friends/requests", api.ListFriendRequests)
		auth.GET("/friends/invite-code", api.FriendInviteCode)
		auth.GET("/friends/pending-count", api.FriendPendingCount)
		auth.POST("/friends/request/:code", api.RequestFriend)
		auth.POST("/friends/:id/accept", api.AcceptFriendRequest)
		auth.POST("/friends/:id/decline", api.DeclineFriendRequest)
		auth.DELETE("/friends/:id", api.RemoveFriend)

		auth.GET("/stats/summary", api.StatsSummary)
		auth.GET("/stats/week", api.StatsWeek)
		auth.GET("/stats/weekly-summary", api.StatsWeeklySummary)
		auth.GET("/stats/heatmap", api.StatsHeatmap)
		auth.GET("/stats/habits/:id", api.StatsHabit)

		auth.GET("/goals/active", api.GetActiveGoal)
		auth.GET("/goals/history", api.GoalHistory)
		auth.POST("/goals", api.CreateGoal)
		auth.POST("/goals/:id/abandon", api.AbandonGoal)
	}

	return r
}
