package handler

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type telegramAuthRequest struct {
	InitData string `json:"initData" binding:"required"`
}

type timezoneRequest struct {
	Timezone string `json:"timezone" binding:"required"`
}

// AuthenticateTelegram 校验 initData 并建立会话。
// 当天首次登录会在响应中带上 dailyLoginXp。
func (a *API) AuthenticateTelegram(c *gin.Context) {
	var req telegramAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "initData is required"})
		return
	}

	result, err := a.auth.Authenticate(req.InitData)
	if err != nil {
		a.respondError(c, err)
		return
	}

	session := sessions.Default(c)
	session.Set(sessionUserKey, result.User.ID)
	if err := session.Save(); err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          userView(result.User),
		"isNewUser":     result.IsNewUser,
		"dailyLoginXp":  result.DailyLoginXp,
		"weekLoginDays": result.WeekLoginDays,
	})
}

// Logout 清除会话
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GetMe 返回当前用户
func (a *API) GetMe(c *gin.Context) {
	user, err := a.auth.GetUser(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView(*user)})
}

// UpdateTimezone 更新当前用户的时区
func (a *API) UpdateTimezone(c *gin.Context) {
	var req timezoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timezone is required"})
		return
	}

	user, err := a.auth.UpdateTimezone(currentUserID(c), req.Timezone)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView(*user)})
}
