package db

import (
	"gorm.io/gorm"
)

// User 定义了用户模型，身份来自 Telegram，附带游戏化状态。
// XP 只能经由 XpTransaction 台账累计；Level 必须恒等于等级曲线对 XP 的映射。
// StreakFreezes 是用户级资源（0..3），LastFreezeUsedDate 记录任意习惯最近一次
// 消耗冻结对应的日历日期（用户时区）。
type User struct {
	gorm.Model
	TelegramID         int64 `gorm:"uniqueIndex;not null"`
	Username           string
	FirstName          string
	LastName           string
	PhotoURL           string
	LanguageCode       string `gorm:"size:10"`
	XP                 int    `gorm:"column:xp;default:0"`
	Level              int    `gorm:"default:1"`
	StreakFreezes      int    `gorm:"default:0"`
	LastFreezeUsedDate *string
	LastLoginDate      *string
	FriendInviteCode   *string `gorm:"uniqueIndex;size:12"`
	Timezone           string  `gorm:"size:50;default:UTC"`
}
