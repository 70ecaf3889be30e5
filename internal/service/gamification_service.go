package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GamificationService 负责 XP 台账与等级曲线。
// users.xp / users.level 的唯一合法修改路径是 AwardXp：
// 台账行与用户行在同一事务内落库，保证两者要么同时成功要么同时失败。
type GamificationService struct {
	db *gorm.DB
}

// XpResult 描述一次授予的结果
type XpResult struct {
	TotalXpAwarded int
	PreviousLevel  int
	NewLevel       int
	LeveledUp      bool
}

// Profile 汇总用户当前的等级进度
type Profile struct {
	XP                int
	Level             int
	XpForCurrentLevel int
	XpForNextLevel    int
	ProgressPercent   int
	StreakFreezes     int
}

// NewGamificationService 构造 GamificationService
func NewGamificationService(gdb *gorm.DB) *GamificationService {
	return &GamificationService{db: gdb}
}

// XpRequiredForLevel 返回从 level 升到下一级所需的 XP：floor(100 * level^1.5)
func XpRequiredForLevel(level int) int {
	return int(math.Floor(100 * math.Pow(float64(level), 1.5)))
}

// CalculateLevel 把累计 XP 映射为等级：从 1 级起逐级扣减升级成本。
// 对 XP 严格单调不减，无闭式解，直接迭代。
func CalculateLevel(totalXp int) int {
	level := 1
	remaining := totalXp
	for remaining >= XpRequiredForLevel(level) {
		remaining -= XpRequiredForLevel(level)
		level++
	}
	return level
}

// AwardXp 追加一条台账并同步用户的 XP/等级。
// 用户行加行锁后读改写，避免同一用户并发授予时丢更新。
func (s *GamificationService) AwardXp(userID uint, amount int, source string, referenceID *uint) (*XpResult, error) {
	var result XpResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %d", ErrNotFound, userID)
			}
			return fmt.Errorf("load user: %w", err)
		}

		entry := db.XpTransaction{
			UserID:      userID,
			Amount:      amount,
			Source:      source,
			ReferenceID: referenceID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("append xp transaction: %w", err)
		}

		previous := user.Level
		user.XP += amount
		user.Level = CalculateLevel(user.XP)
		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("save user: %w", err)
		}

		result = XpResult{
			TotalXpAwarded: amount,
			PreviousLevel:  previous,
			NewLevel:       user.Level,
			LeveledUp:      user.Level > previous,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// GetProfile 返回等级进度快照，无副作用。
func (s *GamificationService) GetProfile(userID uint) (*Profile, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	xpForNextLevel := XpRequiredForLevel(user.Level)

	xpSpent := 0
	for l := 1; l < user.Level; l++ {
		xpSpent += XpRequiredForLevel(l)
	}
	xpForCurrentLevel := user.XP - xpSpent

	progress := 0
	if xpForNextLevel > 0 {
		progress = int(math.Round(float64(xpForCurrentLevel) / float64(xpForNextLevel) * 100))
	}

	return &Profile{
		XP:                user.XP,
		Level:             user.Level,
		XpForCurrentLevel: xpForCurrentLevel,
		XpForNextLevel:    xpForNextLevel,
		ProgressPercent:   progress,
		StreakFreezes:     user.StreakFreezes,
	}, nil
}

// GetStreakBonus 是习惯与挑战共用的连胜加成查表
func GetStreakBonus(streak int) int {
	switch {
	case streak >= 30:
		return 200
	case streak >= 14:
		return 100
	case streak >= 7:
		return 50
	default:
		return 0
	}
}
