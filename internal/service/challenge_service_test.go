package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
)

func newChallengeService(t *testing.T, gdb *gorm.DB, date string) *ChallengeService {
	t.Helper()
	gamification := NewGamificationService(gdb)
	achievements := NewAchievementService(gdb, gamification)
	fixedCode := func(length int) string { return "abcd1234"[:length] }
	return NewChallengeService(gdb, dayClock(t, date), gamification, achievements, fixedCode)
}

func createChallenge(t *testing.T, gdb *gorm.DB, userID uint, start string, duration, allowedMisses int) *db.Challenge {
	t.Helper()
	svc := newChallengeService(t, gdb, start)
	challenge, _, err := svc.Create(userID, CreateChallengeInput{
		Title:         "每天锻炼",
		DurationDays:  duration,
		AllowedMisses: allowedMisses,
		StartDate:     start,
	})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	return challenge
}

func TestChallengeCreateComputesEndDate(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-create")
	svc := newChallengeService(t, gdb, "2026-03-01")
	user := createTestUser(t, gdb, 4001)

	challenge, unlocked, err := svc.Create(user.ID, CreateChallengeInput{
		Title:        "冷水澡",
		DurationDays: 7,
		StartDate:    "2026-03-01",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if challenge.EndDate != "2026-03-07" {
		t.Fatalf("end date should be start + duration - 1, got %s", challenge.EndDate)
	}
	if challenge.Status != db.ChallengeStatusActive {
		t.Fatalf("new challenge should be active, got %s", challenge.Status)
	}

	keys := map[string]bool{}
	for _, u := range unlocked {
		keys[u.Achievement.Key] = true
	}
	if !keys["challenger"] {
		t.Fatalf("expected challenger unlock, got %v", keys)
	}
}

func TestChallengeCheckInFirstDay(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-checkin")
	user := createTestUser(t, gdb, 4002)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-01", 7, 0)

	svc := newChallengeService(t, gdb, "2026-03-01")
	result, err := svc.CheckIn(challenge.ID, user.ID, "第一天")
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if result.XpEarned != 15 {
		t.Fatalf("expected 15 xp per check-in, got %d", result.XpEarned)
	}
	if result.Challenge.CompletedDays != 1 || result.Challenge.CurrentStreak != 1 {
		t.Fatalf("unexpected progress: %+v", result.Challenge)
	}
	if result.ChallengeCompleted {
		t.Fatal("7-day challenge cannot complete on day one")
	}

	// 同一天重复打卡冲突
	if _, err := svc.CheckIn(challenge.ID, user.ID, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestChallengeCheckInOutsideWindow(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-window")
	user := createTestUser(t, gdb, 4003)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-10", 7, 0)

	before := newChallengeService(t, gdb, "2026-03-09")
	if _, err := before.CheckIn(challenge.ID, user.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before start, got %v", err)
	}
}

// 缺打的天在下次打卡时回填为 missed，不超过配额则挑战继续
func TestChallengeBackfillWithinQuota(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-backfill")
	user := createTestUser(t, gdb, 4004)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-01", 7, 2)

	day1 := newChallengeService(t, gdb, "2026-03-01")
	if _, err := day1.CheckIn(challenge.ID, user.ID, ""); err != nil {
		t.Fatalf("day 1 check in: %v", err)
	}

	// 3 月 2、3 日漏打，4 日打卡时回填两天
	day4 := newChallengeService(t, gdb, "2026-03-04")
	result, err := day4.CheckIn(challenge.ID, user.ID, "")
	if err != nil {
		t.Fatalf("day 4 check in: %v", err)
	}
	if result.Challenge.MissedDays != 2 {
		t.Fatalf("expected 2 backfilled misses, got %d", result.Challenge.MissedDays)
	}
	if result.Challenge.CompletedDays != 2 {
		t.Fatalf("expected 2 completed days, got %d", result.Challenge.CompletedDays)
	}
	if result.Challenge.CurrentStreak != 1 {
		t.Fatalf("streak should restart after a gap, got %d", result.Challenge.CurrentStreak)
	}
	if result.Challenge.Status != db.ChallengeStatusActive {
		t.Fatalf("challenge should still be active, got %s", result.Challenge.Status)
	}

	var missed []db.ChallengeDay
	if err := gdb.Where("challenge_id = ? AND status = ?", challenge.ID, db.ChallengeDayMissed).
		Order("day_date ASC").Find(&missed).Error; err != nil {
		t.Fatalf("load missed days: %v", err)
	}
	if len(missed) != 2 || missed[0].DayDate != "2026-03-02" || missed[1].DayDate != "2026-03-03" {
		t.Fatalf("unexpected missed rows: %+v", missed)
	}
}

// 回填把漏打推过配额：失败状态与合成的 missed 记录都要落库
func TestChallengeFailsOverQuota(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-fail")
	user := createTestUser(t, gdb, 4005)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-01", 14, 2)

	day1 := newChallengeService(t, gdb, "2026-03-01")
	if _, err := day1.CheckIn(challenge.ID, user.ID, ""); err != nil {
		t.Fatalf("day 1 check in: %v", err)
	}

	// 2、3、4 日共漏 3 天，超过 2 天配额
	day5 := newChallengeService(t, gdb, "2026-03-05")
	if _, err := day5.CheckIn(challenge.ID, user.ID, ""); !errors.Is(err, ErrChallengeFailed) {
		t.Fatalf("expected ErrChallengeFailed, got %v", err)
	}

	var reloaded db.Challenge
	if err := gdb.First(&reloaded, challenge.ID).Error; err != nil {
		t.Fatalf("reload challenge: %v", err)
	}
	if reloaded.Status != db.ChallengeStatusFailed {
		t.Fatalf("failure must be persisted, got %s", reloaded.Status)
	}
	if reloaded.MissedDays != 3 {
		t.Fatalf("expected 3 persisted misses, got %d", reloaded.MissedDays)
	}

	// 失败后不能再打卡
	if _, err := day5.CheckIn(challenge.ID, user.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after failure, got %v", err)
	}
}

func TestChallengeCompletionAwardsBonus(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-complete")
	user := createTestUser(t, gdb, 4006)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-01", 7, 0)

	var last *CheckInResult
	for day := 1; day <= 7; day++ {
		svc := newChallengeService(t, gdb, fmt.Sprintf("2026-03-%02d", day))
		result, err := svc.CheckIn(challenge.ID, user.ID, "")
		if err != nil {
			t.Fatalf("day %d check in: %v", day, err)
		}
		last = result
	}

	if !last.ChallengeCompleted {
		t.Fatal("challenge should complete on day 7")
	}
	if last.CompletionBonusXp != 50 {
		t.Fatalf("expected 50 completion bonus for 7 days, got %d", last.CompletionBonusXp)
	}
	if last.StreakBonusXp != 50 {
		t.Fatalf("expected streak bonus 50 at streak 7, got %d", last.StreakBonusXp)
	}
	if last.Challenge.Status != db.ChallengeStatusCompleted || last.Challenge.CompletedAt == nil {
		t.Fatalf("completion not recorded: %+v", last.Challenge)
	}

	keys := map[string]bool{}
	for _, u := range last.UnlockedAchievements {
		keys[u.Achievement.Key] = true
	}
	if !keys["finisher"] {
		t.Fatalf("expected finisher unlock, got %v", keys)
	}
}

func TestChallengeCompletionBonusTable(t *testing.T) {
	cases := []struct {
		duration int
		want     int
	}{
		{7, 50},
		{14, 100},
		{21, 150},
		{30, 250},
		{60, 500},
		{90, 750},
		{10, 80},
		{45, 360},
	}
	for _, c := range cases {
		if got := getCompletionBonus(c.duration); got != c.want {
			t.Errorf("getCompletionBonus(%d) = %d, want %d", c.duration, got, c.want)
		}
	}
}

// 今天被回填成 missed 后再打卡，把这一天赎回来
func TestChallengeRedeemMissedToday(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-redeem")
	user := createTestUser(t, gdb, 4007)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-02", 7, 2)

	missed := db.ChallengeDay{
		ChallengeID: challenge.ID,
		UserID:      user.ID,
		DayDate:     "2026-03-02",
		Status:      db.ChallengeDayMissed,
	}
	if err := gdb.Create(&missed).Error; err != nil {
		t.Fatalf("insert missed row: %v", err)
	}
	if err := gdb.Model(&db.Challenge{}).Where("id = ?", challenge.ID).
		Update("missed_days", 1).Error; err != nil {
		t.Fatalf("set missed days: %v", err)
	}

	svc := newChallengeService(t, gdb, "2026-03-02")
	result, err := svc.CheckIn(challenge.ID, user.ID, "")
	if err != nil {
		t.Fatalf("redeem check in: %v", err)
	}
	if result.Challenge.MissedDays != 0 {
		t.Fatalf("missed day should be redeemed, got %d", result.Challenge.MissedDays)
	}
	if result.Challenge.CompletedDays != 1 {
		t.Fatalf("expected 1 completed day, got %d", result.Challenge.CompletedDays)
	}
}

func TestChallengeInviteJoinAndLeaderboard(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-invite")
	creator := createTestUser(t, gdb, 4008)
	friend := createTestUser(t, gdb, 4009)
	outsider := createTestUser(t, gdb, 4010)
	challenge := createChallenge(t, gdb, creator.ID, "2026-03-01", 7, 0)

	svc := newChallengeService(t, gdb, "2026-03-01")

	code, err := svc.GenerateInviteCode(challenge.ID, creator.ID)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if code != "abcd1234" {
		t.Fatalf("unexpected code %q", code)
	}

	// 再次生成返回同一个码
	again, err := svc.GenerateInviteCode(challenge.ID, creator.ID)
	if err != nil || again != code {
		t.Fatalf("code should be reused, got %q err %v", again, err)
	}

	// 创建者不能加入自己的挑战
	if _, err := svc.JoinByCode(code, creator.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState joining own challenge, got %v", err)
	}

	detail, err := svc.JoinByCode(code, friend.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if detail.IsCreator || detail.Participant == nil {
		t.Fatalf("join should create a participant track: %+v", detail)
	}

	// 重复加入冲突
	if _, err := svc.JoinByCode(code, friend.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on rejoin, got %v", err)
	}

	if _, err := svc.CheckIn(challenge.ID, creator.ID, ""); err != nil {
		t.Fatalf("creator check in: %v", err)
	}
	if _, err := svc.CheckIn(challenge.ID, friend.ID, ""); err != nil {
		t.Fatalf("friend check in: %v", err)
	}

	entries, err := svc.Leaderboard(challenge.ID, friend.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected creator and participant, got %d entries", len(entries))
	}
	foundCreator := false
	for _, e := range entries {
		if e.IsCreator && e.UserID == creator.ID {
			foundCreator = true
		}
	}
	if !foundCreator {
		t.Fatal("leaderboard should include the creator")
	}

	// 非成员不可见
	if _, err := svc.Leaderboard(challenge.ID, outsider.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}

	// 吊销后邀请码失效
	if err := svc.RevokeInviteCode(challenge.ID, creator.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.JoinByCode(code, outsider.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

// 参与者完成自己的配额只翻转自己的状态，不发完赛奖励，也不动挑战本身
func TestChallengeParticipantCompletion(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-participant")
	creator := createTestUser(t, gdb, 4011)
	friend := createTestUser(t, gdb, 4012)
	challenge := createChallenge(t, gdb, creator.ID, "2026-03-01", 1, 0)

	svc := newChallengeService(t, gdb, "2026-03-01")
	if _, err := svc.GenerateInviteCode(challenge.ID, creator.ID); err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if _, err := svc.JoinByCode("abcd1234", friend.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	result, err := svc.CheckIn(challenge.ID, friend.ID, "")
	if err != nil {
		t.Fatalf("friend check in: %v", err)
	}
	if result.CompletionBonusXp != 0 {
		t.Fatalf("participant must not receive completion bonus, got %d", result.CompletionBonusXp)
	}
	if result.ChallengeCompleted {
		t.Fatal("participant completion must not mark the whole challenge completed")
	}

	var participant db.ChallengeParticipant
	if err := gdb.Where("challenge_id = ? AND user_id = ?", challenge.ID, friend.ID).
		First(&participant).Error; err != nil {
		t.Fatalf("reload participant: %v", err)
	}
	if participant.Status != db.ChallengeStatusCompleted {
		t.Fatalf("participant track should complete, got %s", participant.Status)
	}

	var reloaded db.Challenge
	if err := gdb.First(&reloaded, challenge.ID).Error; err != nil {
		t.Fatalf("reload challenge: %v", err)
	}
	if reloaded.Status != db.ChallengeStatusActive {
		t.Fatalf("creator track should be untouched, got %s", reloaded.Status)
	}
}

func TestChallengeUndoCheckIn(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-undo")
	user := createTestUser(t, gdb, 4013)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-01", 7, 0)

	day1 := newChallengeService(t, gdb, "2026-03-01")
	if _, err := day1.CheckIn(challenge.ID, user.ID, ""); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	day2 := newChallengeService(t, gdb, "2026-03-02")
	if _, err := day2.CheckIn(challenge.ID, user.ID, ""); err != nil {
		t.Fatalf("day 2: %v", err)
	}

	detail, err := day2.UndoCheckIn(challenge.ID, user.ID, "2026-03-01")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if detail.Challenge.CompletedDays != 1 {
		t.Fatalf("expected 1 completed day after undo, got %d", detail.Challenge.CompletedDays)
	}
	if detail.Challenge.CurrentStreak != 1 {
		t.Fatalf("expected recomputed streak 1, got %d", detail.Challenge.CurrentStreak)
	}

	if _, err := day2.UndoCheckIn(challenge.ID, user.ID, "2026-03-05"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing day, got %v", err)
	}
}

func TestChallengeAbandon(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-abandon")
	user := createTestUser(t, gdb, 4014)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-01", 7, 0)

	svc := newChallengeService(t, gdb, "2026-03-01")
	abandoned, err := svc.Abandon(challenge.ID, user.ID, "太忙了")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if abandoned.Status != db.ChallengeStatusAbandoned {
		t.Fatalf("expected abandoned, got %s", abandoned.Status)
	}
	if abandoned.AbandonReason == nil || *abandoned.AbandonReason != "太忙了" {
		t.Fatalf("reason not recorded: %v", abandoned.AbandonReason)
	}

	// 终态不可重复放弃，也不可再打卡
	if _, err := svc.Abandon(challenge.ID, user.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.CheckIn(challenge.ID, user.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on check-in, got %v", err)
	}
}

// 读取路径也会回填创建者的漏打天
func TestChallengeListBackfillsCreator(t *testing.T) {
	gdb := setupServiceTestDB(t, "challenge-list")
	user := createTestUser(t, gdb, 4015)
	challenge := createChallenge(t, gdb, user.ID, "2026-03-01", 14, 1)

	day1 := newChallengeService(t, gdb, "2026-03-01")
	if _, err := day1.CheckIn(challenge.ID, user.ID, ""); err != nil {
		t.Fatalf("day 1: %v", err)
	}

	// 2、3 日漏打，4 日读列表触发回填并翻转为 failed
	day4 := newChallengeService(t, gdb, "2026-03-04")
	items, err := day4.List(user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one challenge, got %d", len(items))
	}
	if items[0].Challenge.Status != db.ChallengeStatusFailed {
		t.Fatalf("expected failed after backfill, got %s", items[0].Challenge.Status)
	}
	if items[0].Challenge.MissedDays != 2 {
		t.Fatalf("expected 2 misses, got %d", items[0].Challenge.MissedDays)
	}

	// 回填幂等：再读一次不再增加
	again, err := day4.List(user.ID)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if again[0].Challenge.MissedDays != 2 {
		t.Fatalf("backfill should be idempotent, got %d", again[0].Challenge.MissedDays)
	}
}
