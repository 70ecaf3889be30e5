package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/middleware"
	"github.com/habitflow/internal/notify"
	"github.com/habitflow/internal/service"
	"go.uber.org/zap"
)

type challengeRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Icon          string `json:"icon"`
	Color         string `json:"color"`
	DurationDays  int    `json:"durationDays" binding:"required"`
	AllowedMisses int    `json:"allowedMisses"`
	StartDate     string `json:"startDate"`
}

type challengeUpdateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

type joinRequest struct {
	Code string `json:"code" binding:"required"`
}

func challengeListItemView(item service.ChallengeListItem) gin.H {
	view := challengeView(item.Challenge)
	view["todayCheckedIn"] = item.TodayCheckedIn
	view["isCreator"] = item.IsCreator
	view["participantStatus"] = item.ParticipantStatus
	return view
}

func challengeDetailView(detail *service.ChallengeDetail) gin.H {
	days := make([]gin.H, 0, len(detail.Days))
	for _, d := range detail.Days {
		days = append(days, challengeDayView(d))
	}

	view := gin.H{
		"challenge":      challengeView(detail.Challenge),
		"days":           days,
		"todayCheckedIn": detail.TodayCheckedIn,
		"isCreator":      detail.IsCreator,
	}
	if detail.Participant != nil {
		view["participant"] = gin.H{
			"status":        detail.Participant.Status,
			"completedDays": detail.Participant.CompletedDays,
			"missedDays":    detail.Participant.MissedDays,
			"currentStreak": detail.Participant.CurrentStreak,
			"bestStreak":    detail.Participant.BestStreak,
			"completedAt":   detail.Participant.CompletedAt,
		}
	}
	return view
}

// ListChallenges 返回用户创建或加入的挑战，读取时顺带回填创建者轨道
func (a *API) ListChallenges(c *gin.Context) {
	items, err := a.challenges.List(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(items))
	for _, item := range items {
		views = append(views, challengeListItemView(item))
	}
	c.JSON(http.StatusOK, gin.H{"challenges": views})
}

// GetChallenge 返回挑战详情及当前用户的单日记录
func (a *API) GetChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	detail, err := a.challenges.Detail(id, currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeDetailView(detail))
}

// CreateChallenge 新建挑战，可能解锁 challenge_created 成就
func (a *API) CreateChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and durationDays are required"})
		return
	}

	userID := currentUserID(c)
	challenge, unlocked, err := a.challenges.Create(userID, service.CreateChallengeInput{
		Title:         req.Title,
		Description:   req.Description,
		Icon:          req.Icon,
		Color:         req.Color,
		DurationDays:  req.DurationDays,
		AllowedMisses: req.AllowedMisses,
		StartDate:     req.StartDate,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}

	a.notifyAchievements(userID, unlocked)
	c.JSON(http.StatusCreated, gin.H{
		"challenge":            challengeView(*challenge),
		"unlockedAchievements": unlockedViews(unlocked),
	})
}

// UpdateChallenge 仅允许创建者改标题和描述，进度字段不可改
func (a *API) UpdateChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req challengeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	challenge, err := a.challenges.Update(id, currentUserID(c), req.Title, req.Description)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": challengeView(*challenge)})
}

// DeleteChallenge 删除挑战及其全部记录
func (a *API) DeleteChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := a.challenges.Delete(id, currentUserID(c)); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "challenge deleted"})
}

// CheckInChallenge 今日打卡。若回填把轨道推入 failed，失败会落库并通知用户。
func (a *API) CheckInChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req noteRequest
	_ = c.ShouldBindJSON(&req)

	userID := currentUserID(c)
	result, err := a.challenges.CheckIn(id, userID, req.Note)
	if err != nil {
		if errors.Is(err, service.ErrChallengeFailed) {
			a.notifyChallengeFailed(userID, id)
		}
		a.respondError(c, err)
		return
	}

	totalXp := result.XpEarned + result.StreakBonusXp + result.CompletionBonusXp
	middleware.XpAwarded.WithLabelValues(db.XpSourceChallenge).Add(float64(totalXp))

	if result.LeveledUp {
		a.notifyLevelUp(userID, result.NewLevel)
	}
	a.notifyAchievements(userID, result.UnlockedAchievements)

	c.JSON(http.StatusOK, gin.H{
		"day":                  challengeDayView(result.Day),
		"challenge":            challengeView(result.Challenge),
		"xpEarned":             result.XpEarned,
		"streakBonusXp":        result.StreakBonusXp,
		"completionBonusXp":    result.CompletionBonusXp,
		"leveledUp":            result.LeveledUp,
		"newLevel":             result.NewLevel,
		"challengeCompleted":   result.ChallengeCompleted,
		"unlockedAchievements": unlockedViews(result.UnlockedAchievements),
	})
}

// UndoCheckInChallenge 撤销某天的打卡，不回收已发放的 XP
func (a *API) UndoCheckInChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req uncompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date is required"})
		return
	}

	detail, err := a.challenges.UndoCheckIn(id, currentUserID(c), req.Date)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeDetailView(detail))
}

// AbandonChallenge creator 主动放弃挑战
func (a *API) AbandonChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req abandonRequest
	_ = c.ShouldBindJSON(&req)

	challenge, err := a.challenges.Abandon(id, currentUserID(c), req.Reason)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": challengeView(*challenge)})
}

// GenerateInviteCode 为挑战生成（或复用）邀请码
func (a *API) GenerateInviteCode(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	code, err := a.challenges.GenerateInviteCode(id, currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inviteCode": code})
}

// RevokeInviteCode 吊销挑战的邀请码
func (a *API) RevokeInviteCode(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := a.challenges.RevokeInviteCode(id, currentUserID(c)); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invite code revoked"})
}

// JoinChallenge 通过邀请码加入挑战
func (a *API) JoinChallenge(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	detail, err := a.challenges.JoinByCode(req.Code, currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeDetailView(detail))
}

// LeaveChallenge 参与者退出挑战
func (a *API) LeaveChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := a.challenges.Leave(id, currentUserID(c)); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left challenge"})
}

// ChallengeLeaderboard 返回挑战内全部成员按完成天数排序的榜单
func (a *API) ChallengeLeaderboard(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := a.challenges.Leaderboard(id, currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		views = append(views, gin.H{
			"userId":        e.UserID,
			"username":      e.Username,
			"firstName":     e.FirstName,
			"photoUrl":      e.PhotoURL,
			"level":         e.Level,
			"completedDays": e.CompletedDays,
			"currentStreak": e.CurrentStreak,
			"bestStreak":    e.BestStreak,
			"status":        e.Status,
			"isCreator":     e.IsCreator,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": views})
}

// notifyChallengeFailed 异步发送挑战失败提醒
func (a *API) notifyChallengeFailed(userID, challengeID uint) {
	if a.notifier == nil || !a.notifier.Enabled() {
		return
	}
	user, err := a.auth.GetUser(userID)
	if err != nil {
		a.logger.Warn("load user for notify failed", zap.Error(err))
		return
	}
	var challenge db.Challenge
	if err := a.db.First(&challenge, challengeID).Error; err != nil {
		a.logger.Warn("load challenge for notify failed", zap.Error(err))
		return
	}
	go func() {
		if err := a.notifier.SendMessage(user.TelegramID, notify.ChallengeFailedMessage(challenge.Title, challenge.Description)); err != nil {
			a.logger.Warn("challenge failed notify failed", zap.Error(err))
		}
	}()
}
