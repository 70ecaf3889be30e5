package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
)

// 好友邀请码长度，与挑战邀请码（8 位）区分
const friendCodeLength = 12

// FriendService 管理好友关系：邀请码、申请、接受/拒绝、删除。
// 一对用户无论方向最多一条关系记录。
type FriendService struct {
	db           *gorm.DB
	generateCode CodeGenerator
}

// FriendProfile 是好友列表里的一条，带对方的游戏化概要
type FriendProfile struct {
	FriendshipID uint
	UserID       uint
	Username     string
	FirstName    string
	PhotoURL     string
	Level        int
	XP           int
}

// FriendRequest 是一条待处理的好友申请
type FriendRequest struct {
	ID          uint
	RequesterID uint
	Username    string
	FirstName   string
	PhotoURL    string
	CreatedAt   time.Time
}

// NewFriendService 构造 FriendService
func NewFriendService(gdb *gorm.DB, generateCode CodeGenerator) *FriendService {
	return &FriendService{db: gdb, generateCode: generateCode}
}

// GetOrCreateInviteCode 幂等返回用户的好友邀请码，没有则生成一枚
func (s *FriendService) GetOrCreateInviteCode(userID uint) (string, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	if user.FriendInviteCode != nil {
		return *user.FriendInviteCode, nil
	}

	code := s.generateCode(friendCodeLength)
	user.FriendInviteCode = &code
	if err := s.db.Save(&user).Error; err != nil {
		return "", fmt.Errorf("save invite code: %w", err)
	}
	return code, nil
}

// RequestByCode 按邀请码发起好友申请。
// 已是好友或已有待处理申请时冲突；被拒绝过的旧记录删除后重建，允许再次申请。
func (s *FriendService) RequestByCode(requesterID uint, code string) error {
	var addressee db.User
	err := s.db.Where("friend_invite_code = ?", code).First(&addressee).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: invite code %q", ErrNotFound, code)
	}
	if err != nil {
		return fmt.Errorf("find invite code: %w", err)
	}
	if addressee.ID == requesterID {
		return fmt.Errorf("%w: cannot send friend request to yourself", ErrInvalidState)
	}

	var existing db.Friendship
	err = s.db.Where(
		"(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)",
		requesterID, addressee.ID, addressee.ID, requesterID,
	).First(&existing).Error
	if err == nil {
		switch existing.Status {
		case db.FriendshipStatusAccepted:
			return fmt.Errorf("%w: already friends", ErrConflict)
		case db.FriendshipStatusPending:
			return fmt.Errorf("%w: friend request already sent", ErrConflict)
		}
		if err := s.db.Unscoped().Delete(&existing).Error; err != nil {
			return fmt.Errorf("remove declined friendship: %w", err)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("find friendship: %w", err)
	}

	friendship := db.Friendship{
		RequesterID: requesterID,
		AddresseeID: addressee.ID,
		Status:      db.FriendshipStatusPending,
	}
	if err := s.db.Create(&friendship).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: friend request already sent", ErrConflict)
		}
		return fmt.Errorf("create friendship: %w", err)
	}
	return nil
}

// Friends 列出已确认的好友，双向关系都算，返回对方的概要
func (s *FriendService) Friends(userID uint) ([]FriendProfile, error) {
	var friendships []db.Friendship
	if err := s.db.Preload("Requester").Preload("Addressee").
		Where("(requester_id = ? OR addressee_id = ?) AND status = ?",
			userID, userID, db.FriendshipStatusAccepted).
		Find(&friendships).Error; err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	profiles := make([]FriendProfile, 0, len(friendships))
	for _, f := range friendships {
		friend := f.Addressee
		if f.AddresseeID == userID {
			friend = f.Requester
		}
		profiles = append(profiles, FriendProfile{
			FriendshipID: f.ID,
			UserID:       friend.ID,
			Username:     friend.Username,
			FirstName:    friend.FirstName,
			PhotoURL:     friend.PhotoURL,
			Level:        friend.Level,
			XP:           friend.XP,
		})
	}
	return profiles, nil
}

// Requests 列出发给自己的待处理申请，新的在前
func (s *FriendService) Requests(userID uint) ([]FriendRequest, error) {
	var friendships []db.Friendship
	if err := s.db.Preload("Requester").
		Where("addressee_id = ? AND status = ?", userID, db.FriendshipStatusPending).
		Order("created_at DESC").
		Find(&friendships).Error; err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}

	requests := make([]FriendRequest, 0, len(friendships))
	for _, f := range friendships {
		requests = append(requests, FriendRequest{
			ID:          f.ID,
			RequesterID: f.RequesterID,
			Username:    f.Requester.Username,
			FirstName:   f.Requester.FirstName,
			PhotoURL:    f.Requester.PhotoURL,
			CreatedAt:   f.CreatedAt,
		})
	}
	return requests, nil
}

// PendingCount 返回发给自己的待处理申请数
func (s *FriendService) PendingCount(userID uint) (int64, error) {
	var count int64
	if err := s.db.Model(&db.Friendship{}).
		Where("addressee_id = ? AND status = ?", userID, db.FriendshipStatusPending).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count friend requests: %w", err)
	}
	return count, nil
}

// Accept 接受一条申请，只有被邀请者本人可以操作
func (s *FriendService) Accept(id, userID uint) error {
	return s.resolveRequest(id, userID, db.FriendshipStatusAccepted)
}

// Decline 拒绝一条申请。记录保留为 declined，对方可以重新申请。
func (s *FriendService) Decline(id, userID uint) error {
	return s.resolveRequest(id, userID, db.FriendshipStatusDeclined)
}

func (s *FriendService) resolveRequest(id, userID uint, status string) error {
	var friendship db.Friendship
	if err := s.db.First(&friendship, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: friend request %d", ErrNotFound, id)
		}
		return fmt.Errorf("find friend request: %w", err)
	}
	if friendship.AddresseeID != userID {
		return fmt.Errorf("%w: not the addressee of request %d", ErrForbidden, id)
	}
	if friendship.Status != db.FriendshipStatusPending {
		return fmt.Errorf("%w: request is not pending", ErrInvalidState)
	}

	friendship.Status = status
	if err := s.db.Save(&friendship).Error; err != nil {
		return fmt.Errorf("update friend request: %w", err)
	}
	return nil
}

// Remove 删除一条好友关系，任一方都可以操作
func (s *FriendService) Remove(id, userID uint) error {
	var friendship db.Friendship
	if err := s.db.First(&friendship, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: friendship %d", ErrNotFound, id)
		}
		return fmt.Errorf("find friendship: %w", err)
	}
	if friendship.RequesterID != userID && friendship.AddresseeID != userID {
		return fmt.Errorf("%w: not a member of friendship %d", ErrForbidden, id)
	}
	if err := s.db.Unscoped().Delete(&friendship).Error; err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	return nil
}
