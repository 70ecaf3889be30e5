package handler

import (
	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/notify"
	"github.com/habitflow/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db           *gorm.DB
	logger       *zap.Logger
	auth         *service.AuthService
	gamification *service.GamificationService
	habits       *service.HabitService
	achievements *service.AchievementService
	challenges   *service.ChallengeService
	goals        *service.GoalService
	friends      *service.FriendService
	stats        *service.StatsService
	notifier     *notify.Telegram
	botUsername  string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, clk clock.Clock, botToken, botUsername string, notifier *notify.Telegram, logger *zap.Logger) *API {
	gamification := service.NewGamificationService(gdb)
	achievements := service.NewAchievementService(gdb, gamification)

	return &API{
		db:           gdb,
		logger:       logger,
		auth:         service.NewAuthService(gdb, clk, gamification, botToken),
		gamification: gamification,
		habits:       service.NewHabitService(gdb, clk, gamification, achievements),
		achievements: achievements,
		challenges:   service.NewChallengeService(gdb, clk, gamification, achievements, service.RandomCode),
		goals:        service.NewGoalService(gdb, clk, gamification),
		friends:      service.NewFriendService(gdb, service.RandomCode),
		stats:        service.NewStatsService(gdb, clk),
		notifier:     notifier,
		botUsername:  botUsername,
	}
}
