package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Init 初始化数据库连接并执行自动迁移。
// databasePath 为空时将回退到默认值 habitflow.db。
func Init(databasePath string) error {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = "habitflow.db"
	}

	if err := ensureParentDir(path); err != nil {
		return err
	}

	var err error
	// TranslateError 让唯一索引冲突以 gorm.ErrDuplicatedKey 暴露给上层
	DB, err = gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return err
	}

	// 自动迁移模式，为核心模型创建表
	if err = DB.AutoMigrate(
		&User{},
		&Habit{},
		&HabitCompletion{},
		&XpTransaction{},
		&Achievement{},
		&UserAchievement{},
		&Challenge{},
		&ChallengeParticipant{},
		&ChallengeDay{},
		&Goal{},
		&Friendship{},
	); err != nil {
		return err
	}

	// 成就目录为静态种子数据，按 key 幂等补齐
	return EnsureAchievements(DB)
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
