package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/habitflow/internal/db"
)

const testBotToken = "12345:test-token"

// signInitData 按 Telegram Web App 协议为参数集合计算 hash
func signInitData(t *testing.T, botToken string, params map[string]string) string {
	t.Helper()

	pairs := make([]string, 0, len(params))
	for key, value := range params {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	hash := hex.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	values.Set("hash", hash)
	return values.Encode()
}

func telegramInitData(t *testing.T, telegramID int64, firstName string) string {
	t.Helper()
	user := fmt.Sprintf(`{"id":%d,"first_name":%q,"username":"tg%d"}`, telegramID, firstName, telegramID)
	return signInitData(t, testBotToken, map[string]string{
		"user":      user,
		"auth_date": "1767052800",
	})
}

func TestAuthenticateCreatesUserAndAwardsLoginBonus(t *testing.T) {
	gdb := setupServiceTestDB(t, "auth-create")
	svc := NewAuthService(gdb, dayClock(t, "2026-01-10"), NewGamificationService(gdb), testBotToken)

	result, err := svc.Authenticate(telegramInitData(t, 777001, "小明"))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !result.IsNewUser {
		t.Fatal("expected a new user")
	}
	if result.User.TelegramID != 777001 || result.User.FirstName != "小明" {
		t.Fatalf("identity not recorded: %+v", result.User)
	}
	if result.DailyLoginXp == nil || *result.DailyLoginXp != 5 {
		t.Fatalf("expected 5 daily login xp, got %v", result.DailyLoginXp)
	}
	if len(result.WeekLoginDays) != 1 {
		t.Fatalf("expected one login day this week, got %v", result.WeekLoginDays)
	}

	var reloaded db.User
	if err := gdb.First(&reloaded, result.User.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.XP != 5 {
		t.Fatalf("login bonus not credited: %d", reloaded.XP)
	}
	if reloaded.LastLoginDate == nil || *reloaded.LastLoginDate != "2026-01-10" {
		t.Fatalf("login date not recorded: %v", reloaded.LastLoginDate)
	}
}

func TestAuthenticateSameDayNoDoubleBonus(t *testing.T) {
	gdb := setupServiceTestDB(t, "auth-sameday")
	svc := NewAuthService(gdb, dayClock(t, "2026-01-10"), NewGamificationService(gdb), testBotToken)

	initData := telegramInitData(t, 777002, "阿强")
	if _, err := svc.Authenticate(initData); err != nil {
		t.Fatalf("first login: %v", err)
	}

	second, err := svc.Authenticate(initData)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.IsNewUser {
		t.Fatal("second login must not create a user")
	}
	if second.DailyLoginXp != nil {
		t.Fatalf("same-day login must not re-award bonus, got %v", *second.DailyLoginXp)
	}

	var reloaded db.User
	if err := gdb.Where("telegram_id = ?", int64(777002)).First(&reloaded).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.XP != 5 {
		t.Fatalf("bonus awarded twice: %d", reloaded.XP)
	}
}

func TestAuthenticateNextDayAwardsAgain(t *testing.T) {
	gdb := setupServiceTestDB(t, "auth-nextday")
	gamification := NewGamificationService(gdb)
	initData := telegramInitData(t, 777003, "丽丽")

	day1 := NewAuthService(gdb, dayClock(t, "2026-01-10"), gamification, testBotToken)
	if _, err := day1.Authenticate(initData); err != nil {
		t.Fatalf("day 1 login: %v", err)
	}

	day2 := NewAuthService(gdb, dayClock(t, "2026-01-11"), gamification, testBotToken)
	result, err := day2.Authenticate(initData)
	if err != nil {
		t.Fatalf("day 2 login: %v", err)
	}
	if result.DailyLoginXp == nil {
		t.Fatal("new day should award the login bonus again")
	}
	if result.User.XP != 10 {
		t.Fatalf("expected 10 xp after two logins, got %d", result.User.XP)
	}
}

func TestVerifyInitDataRejectsBadSignature(t *testing.T) {
	gdb := setupServiceTestDB(t, "auth-badsig")
	svc := NewAuthService(gdb, dayClock(t, "2026-01-10"), NewGamificationService(gdb), testBotToken)

	// 正确结构但用错误的 token 签名
	forged := signInitData(t, "99999:wrong-token", map[string]string{
		"user":      `{"id":777004,"first_name":"骗子"}`,
		"auth_date": "1767052800",
	})
	if _, err := svc.VerifyInitData(forged); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for forged signature, got %v", err)
	}

	if _, err := svc.VerifyInitData("user=%7B%7D"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for missing hash, got %v", err)
	}
}

func TestUpdateTimezone(t *testing.T) {
	gdb := setupServiceTestDB(t, "auth-timezone")
	svc := NewAuthService(gdb, dayClock(t, "2026-01-10"), NewGamificationService(gdb), testBotToken)
	user := createTestUser(t, gdb, 777005)

	updated, err := svc.UpdateTimezone(user.ID, "Asia/Shanghai")
	if err != nil {
		t.Fatalf("update timezone: %v", err)
	}
	if updated.Timezone != "Asia/Shanghai" {
		t.Fatalf("timezone not saved: %s", updated.Timezone)
	}

	if _, err := svc.UpdateTimezone(user.ID, "Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
