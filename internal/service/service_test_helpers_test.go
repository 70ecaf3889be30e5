package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupServiceTestDB 打开独立的内存库、迁移全部模型并灌入成就目录。
// TranslateError 必须开启：核心层依赖 gorm.ErrDuplicatedKey 做幂等判断。
func setupServiceTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s-%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.User{},
		&db.Habit{},
		&db.HabitCompletion{},
		&db.XpTransaction{},
		&db.Achievement{},
		&db.UserAchievement{},
		&db.Challenge{},
		&db.ChallengeParticipant{},
		&db.ChallengeDay{},
		&db.Goal{},
		&db.Friendship{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	if err := db.EnsureAchievements(gdb); err != nil {
		t.Fatalf("failed to seed achievements: %v", err)
	}
	return gdb
}

func createTestUser(t *testing.T, gdb *gorm.DB, telegramID int64) db.User {
	t.Helper()
	user := db.User{
		TelegramID: telegramID,
		Username:   fmt.Sprintf("tester%d", telegramID),
		FirstName:  "测试",
		Level:      1,
		Timezone:   "UTC",
	}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// dayClock 返回固定在某日历日正午 UTC 的时钟
func dayClock(t *testing.T, date string) clock.Fixed {
	t.Helper()
	parsed, err := time.Parse(clock.DateLayout, date)
	if err != nil {
		t.Fatalf("parse date %q: %v", date, err)
	}
	return clock.Fixed{T: parsed.Add(12 * time.Hour)}
}
