package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
)

func friendView(f service.FriendProfile) gin.H {
	return gin.H{
		"friendshipId": f.FriendshipID,
		"userId":       f.UserID,
		"username":     f.Username,
		"firstName":    f.FirstName,
		"photoUrl":     f.PhotoURL,
		"level":        f.Level,
		"xp":           f.XP,
	}
}

func friendRequestView(r service.FriendRequest) gin.H {
	return gin.H{
		"id":          r.ID,
		"requesterId": r.RequesterID,
		"username":    r.Username,
		"firstName":   r.FirstName,
		"photoUrl":    r.PhotoURL,
		"createdAt":   r.CreatedAt,
	}
}

// ListFriends 返回已确认的好友及其等级/XP 概要
func (a *API) ListFriends(c *gin.Context) {
	friends, err := a.friends.Friends(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(friends))
	for _, f := range friends {
		views = append(views, friendView(f))
	}
	c.JSON(http.StatusOK, gin.H{"friends": views})
}

// ListFriendRequests 返回发给自己的待处理申请
func (a *API) ListFriendRequests(c *gin.Context) {
	requests, err := a.friends.Requests(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(requests))
	for _, r := range requests {
		views = append(views, friendRequestView(r))
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

// FriendInviteCode 幂等返回自己的好友邀请码和分享链接
func (a *API) FriendInviteCode(c *gin.Context) {
	code, err := a.friends.GetOrCreateInviteCode(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}

	resp := gin.H{"code": code}
	if a.botUsername != "" {
		resp["link"] = fmt.Sprintf("https://t.me/%s?start=fi_%s", a.botUsername, code)
	}
	c.JSON(http.StatusOK, resp)
}

// FriendPendingCount 返回待处理申请数，给客户端角标用
func (a *API) FriendPendingCount(c *gin.Context) {
	count, err := a.friends.PendingCount(currentUserID(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// RequestFriend 按邀请码发起好友申请
func (a *API) RequestFriend(c *gin.Context) {
	code := c.Param("code")
	if err := a.friends.RequestByCode(currentUserID(c), code); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friend request sent"})
}

// AcceptFriendRequest 接受好友申请，仅限被邀请者
func (a *API) AcceptFriendRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := a.friends.Accept(id, currentUserID(c)); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friend request accepted"})
}

// DeclineFriendRequest 拒绝好友申请
func (a *API) DeclineFriendRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := a.friends.Decline(id, currentUserID(c)); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friend request declined"})
}

// RemoveFriend 删除好友关系，任一方都可以
func (a *API) RemoveFriend(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := a.friends.Remove(id, currentUserID(c)); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friend removed"})
}
