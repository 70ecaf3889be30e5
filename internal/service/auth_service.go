package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
)

// 每日首次登录奖励
const dailyLoginXp = 5

// TelegramUserData 是 initData 中 user 字段解出的身份信息
type TelegramUserData struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
	PhotoURL     string `json:"photo_url"`
}

// AuthResult 是一次认证的结果，DailyLoginXp 仅在当天首次登录时非 nil
type AuthResult struct {
	User          db.User
	IsNewUser     bool
	DailyLoginXp  *int
	WeekLoginDays []string
}

// AuthService 校验 Telegram Web App 的 initData 签名并维护用户记录。
// 签名算法由 Telegram 协议规定：secret = HMAC-SHA256("WebAppData", botToken)，
// hash = hex(HMAC-SHA256(secret, dataCheckString))。
type AuthService struct {
	db           *gorm.DB
	clk          clock.Clock
	gamification *GamificationService
	botToken     string
}

// NewAuthService 构造 AuthService
func NewAuthService(gdb *gorm.DB, clk clock.Clock, gamification *GamificationService, botToken string) *AuthService {
	return &AuthService{db: gdb, clk: clk, gamification: gamification, botToken: botToken}
}

// Authenticate 校验 initData，按 telegramId 取到或建出用户，
// 并结算当天首次登录的奖励。
func (s *AuthService) Authenticate(initData string) (*AuthResult, error) {
	tgUser, err := s.VerifyInitData(initData)
	if err != nil {
		return nil, err
	}

	user, isNew, err := s.findOrCreate(tgUser)
	if err != nil {
		return nil, err
	}

	result := AuthResult{User: *user, IsNewUser: isNew}

	today := clock.Today(s.clk, user.Timezone)
	if user.LastLoginDate == nil || *user.LastLoginDate != today {
		if _, err := s.gamification.AwardXp(user.ID, dailyLoginXp, db.XpSourceDailyLogin, nil); err != nil {
			return nil, err
		}
		d := today
		user.LastLoginDate = &d
		if err := s.db.Save(user).Error; err != nil {
			return nil, fmt.Errorf("save login date: %w", err)
		}
		bonus := dailyLoginXp
		result.DailyLoginXp = &bonus
		result.User = *user
	}

	week, err := s.weekLoginDays(user.ID)
	if err != nil {
		return nil, err
	}
	result.WeekLoginDays = week
	return &result, nil
}

// VerifyInitData 校验签名并解出用户身份，签名不符返回 Forbidden。
func (s *AuthService) VerifyInitData(initData string) (*TelegramUserData, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed init data", ErrForbidden)
	}

	providedHash := values.Get("hash")
	if providedHash == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrForbidden)
	}

	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	dataCheckString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(s.botToken))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(providedHash)) {
		return nil, fmt.Errorf("%w: invalid signature", ErrForbidden)
	}

	var tgUser TelegramUserData
	if err := json.Unmarshal([]byte(values.Get("user")), &tgUser); err != nil {
		return nil, fmt.Errorf("%w: malformed user payload", ErrForbidden)
	}
	if tgUser.ID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrForbidden)
	}
	return &tgUser, nil
}

// GetUser 按内部 ID 取用户
func (s *AuthService) GetUser(userID uint) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// UpdateTimezone 更新用户时区，非法时区名直接拒绝
func (s *AuthService) UpdateTimezone(userID uint, timezone string) (*db.User, error) {
	if _, err := time.LoadLocation(timezone); err != nil || timezone == "" {
		return nil, fmt.Errorf("invalid timezone %q", timezone)
	}

	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}
	user.Timezone = timezone
	if err := s.db.Save(user).Error; err != nil {
		return nil, fmt.Errorf("save timezone: %w", err)
	}
	return user, nil
}

// findOrCreate 按 telegramId 取到或建出用户，已存在时顺带刷新展示字段。
// 并发创建同一用户时靠唯一索引冲突收敛到重读，这是唯一被吞掉的冲突。
func (s *AuthService) findOrCreate(tgUser *TelegramUserData) (*db.User, bool, error) {
	var user db.User
	err := s.db.Where("telegram_id = ?", tgUser.ID).First(&user).Error
	if err == nil {
		user.FirstName = tgUser.FirstName
		user.LastName = tgUser.LastName
		user.Username = tgUser.Username
		user.PhotoURL = tgUser.PhotoURL
		user.LanguageCode = tgUser.LanguageCode
		if err := s.db.Save(&user).Error; err != nil {
			return nil, false, fmt.Errorf("refresh user: %w", err)
		}
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("find user: %w", err)
	}

	user = db.User{
		TelegramID:   tgUser.ID,
		FirstName:    tgUser.FirstName,
		LastName:     tgUser.LastName,
		Username:     tgUser.Username,
		PhotoURL:     tgUser.PhotoURL,
		LanguageCode: tgUser.LanguageCode,
		Level:        1,
		Timezone:     "UTC",
	}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing db.User
			if err := s.db.Where("telegram_id = ?", tgUser.ID).First(&existing).Error; err != nil {
				return nil, false, fmt.Errorf("reload user: %w", err)
			}
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return &user, true, nil
}

// weekLoginDays 从台账取出本周（周一起）有登录奖励的日期
func (s *AuthService) weekLoginDays(userID uint) ([]string, error) {
	now := s.clk.Now()
	offset := int(now.Weekday())
	if offset == 0 {
		offset = 7
	}
	monday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, 1-offset)

	var transactions []db.XpTransaction
	if err := s.db.Where("user_id = ? AND source = ? AND created_at >= ?",
		userID, db.XpSourceDailyLogin, monday).
		Order("created_at ASC").
		Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("list login transactions: %w", err)
	}

	seen := make(map[string]struct{})
	days := make([]string, 0, len(transactions))
	for _, tx := range transactions {
		day := tx.CreatedAt.Format(clock.DateLayout)
		if _, ok := seen[day]; !ok {
			seen[day] = struct{}{}
			days = append(days, day)
		}
	}
	return days, nil
}
