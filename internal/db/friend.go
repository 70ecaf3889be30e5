package db

import (
	"gorm.io/gorm"
)

// 好友关系状态
const (
	FriendshipStatusPending  = "pending"
	FriendshipStatusAccepted = "accepted"
	FriendshipStatusDeclined = "declined"
)

// Friendship 记录一条好友关系，方向从发起者指向被邀请者。
// 同一对用户（无论方向）最多一条记录；被拒绝的记录在重新申请时删除重建。
type Friendship struct {
	gorm.Model
	RequesterID uint   `gorm:"index;not null;uniqueIndex:idx_friendship_pair"`
	Requester   User   `gorm:"foreignKey:RequesterID;constraint:OnDelete:CASCADE"`
	AddresseeID uint   `gorm:"index;not null;uniqueIndex:idx_friendship_pair"`
	Addressee   User   `gorm:"foreignKey:AddresseeID;constraint:OnDelete:CASCADE"`
	Status      string `gorm:"size:20;default:pending"`
}
