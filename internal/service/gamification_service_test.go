package service

import (
	"errors"
	"testing"

	"github.com/habitflow/internal/db"
)

func TestXpRequiredForLevel(t *testing.T) {
	cases := []struct {
		level int
		want  int
	}{
		{1, 100},
		{2, 282},
		{3, 519},
		{4, 800},
		{10, 3162},
	}
	for _, c := range cases {
		if got := XpRequiredForLevel(c.level); got != c.want {
			t.Errorf("XpRequiredForLevel(%d) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestCalculateLevel(t *testing.T) {
	cases := []struct {
		xp   int
		want int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{150, 2},
		{381, 2},
		{382, 3},
		{901, 4},
	}
	for _, c := range cases {
		if got := CalculateLevel(c.xp); got != c.want {
			t.Errorf("CalculateLevel(%d) = %d, want %d", c.xp, got, c.want)
		}
	}
}

// 等级对 XP 单调不减
func TestCalculateLevelMonotonic(t *testing.T) {
	prev := CalculateLevel(0)
	for xp := 1; xp <= 5000; xp++ {
		level := CalculateLevel(xp)
		if level < prev {
			t.Fatalf("level decreased at xp=%d: %d -> %d", xp, prev, level)
		}
		prev = level
	}
}

func TestAwardXpUpdatesUserAndLedger(t *testing.T) {
	gdb := setupServiceTestDB(t, "gamification-award")
	svc := NewGamificationService(gdb)
	user := createTestUser(t, gdb, 1001)

	result, err := svc.AwardXp(user.ID, 150, db.XpSourceHabitComplete, nil)
	if err != nil {
		t.Fatalf("award xp: %v", err)
	}
	if !result.LeveledUp || result.PreviousLevel != 1 || result.NewLevel != 2 {
		t.Fatalf("unexpected level result: %+v", result)
	}

	var reloaded db.User
	if err := gdb.First(&reloaded, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.XP != 150 || reloaded.Level != 2 {
		t.Fatalf("user not updated: xp=%d level=%d", reloaded.XP, reloaded.Level)
	}

	var entries []db.XpTransaction
	if err := gdb.Where("user_id = ?", user.ID).Find(&entries).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != 150 || entries[0].Source != db.XpSourceHabitComplete {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}
}

// 台账总和始终等于用户累计 XP
func TestAwardXpLedgerConsistency(t *testing.T) {
	gdb := setupServiceTestDB(t, "gamification-ledger")
	svc := NewGamificationService(gdb)
	user := createTestUser(t, gdb, 1002)

	amounts := []int{10, 50, 5, 200, 15}
	for _, amount := range amounts {
		if _, err := svc.AwardXp(user.ID, amount, db.XpSourceChallenge, nil); err != nil {
			t.Fatalf("award %d: %v", amount, err)
		}
	}

	var sum int
	if err := gdb.Model(&db.XpTransaction{}).
		Where("user_id = ?", user.ID).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error; err != nil {
		t.Fatalf("sum ledger: %v", err)
	}

	var reloaded db.User
	if err := gdb.First(&reloaded, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if sum != reloaded.XP {
		t.Fatalf("ledger sum %d != user xp %d", sum, reloaded.XP)
	}
	if reloaded.Level != CalculateLevel(reloaded.XP) {
		t.Fatalf("level %d inconsistent with xp %d", reloaded.Level, reloaded.XP)
	}
}

func TestAwardXpUnknownUser(t *testing.T) {
	gdb := setupServiceTestDB(t, "gamification-nouser")
	svc := NewGamificationService(gdb)

	if _, err := svc.AwardXp(9999, 10, db.XpSourceHabitComplete, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetProfile(t *testing.T) {
	gdb := setupServiceTestDB(t, "gamification-profile")
	svc := NewGamificationService(gdb)
	user := createTestUser(t, gdb, 1003)

	if _, err := svc.AwardXp(user.ID, 150, db.XpSourceHabitComplete, nil); err != nil {
		t.Fatalf("award xp: %v", err)
	}

	profile, err := svc.GetProfile(user.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Level != 2 {
		t.Fatalf("expected level 2, got %d", profile.Level)
	}
	if profile.XpForCurrentLevel != 50 {
		t.Fatalf("expected 50 xp into level, got %d", profile.XpForCurrentLevel)
	}
	if profile.XpForNextLevel != 282 {
		t.Fatalf("expected 282 xp for next level, got %d", profile.XpForNextLevel)
	}
	if profile.ProgressPercent != 18 {
		t.Fatalf("expected 18%% progress, got %d", profile.ProgressPercent)
	}
}

func TestGetStreakBonus(t *testing.T) {
	cases := []struct {
		streak int
		want   int
	}{
		{0, 0},
		{6, 0},
		{7, 50},
		{13, 50},
		{14, 100},
		{29, 100},
		{30, 200},
		{365, 200},
	}
	for _, c := range cases {
		if got := GetStreakBonus(c.streak); got != c.want {
			t.Errorf("GetStreakBonus(%d) = %d, want %d", c.streak, got, c.want)
		}
	}
}
