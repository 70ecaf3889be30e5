package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 每次挑战打卡的基础 XP
const xpPerCheckIn = 15

// 常见时长的完赛奖励查表，其余时长按 durationDays*8 取整
var completionXp = map[int]int{
	7:  50,
	14: 100,
	21: 150,
	30: 250,
	60: 500,
	90: 750,
}

// 邀请码长度与字符集
const inviteCodeLength = 8

// ErrChallengeFailed 表示本次打卡触发的回填把轨道推过了失败阈值。
// 它包装 ErrInvalidState，但失败状态与合成的漏打记录会照常落库。
var ErrChallengeFailed = fmt.Errorf("%w: challenge failed due to too many missed days", ErrInvalidState)

// CodeGenerator 生成指定长度的小写字母数字邀请码。
// 以注入能力的形式存在，测试可替换为确定性实现。
type CodeGenerator func(length int) string

// ChallengeService 负责挑战的状态机：打卡、漏打回填、完成/失败判定、
// 邀请加入与排行榜。
// 每个挑战有两条并行轨道：创建者的进度记在 Challenge 行本身，
// 加入者的进度各自记在 ChallengeParticipant 行。两条轨道共用同一套
// 打卡/回填逻辑（track），只是落库的行不同。
type ChallengeService struct {
	db           *gorm.DB
	clk          clock.Clock
	gamification *GamificationService
	achievements *AchievementService
	generateCode CodeGenerator
}

// CreateChallengeInput 定义创建挑战的可配置字段
type CreateChallengeInput struct {
	Title         string
	Description   string
	Icon          string
	Color         string
	DurationDays  int
	AllowedMisses int
	StartDate     string
}

// ChallengeListItem 是列表页的单行数据
type ChallengeListItem struct {
	Challenge         db.Challenge
	TodayCheckedIn    bool
	IsCreator         bool
	ParticipantStatus *string
}

// ChallengeDetail 是详情页数据，附带该用户的全部单日记录
type ChallengeDetail struct {
	Challenge      db.Challenge
	Days           []db.ChallengeDay
	TodayCheckedIn bool
	IsCreator      bool
	Participant    *db.ChallengeParticipant
}

// CheckInResult 汇总一次打卡的结算结果
type CheckInResult struct {
	Day                  db.ChallengeDay
	Challenge            db.Challenge
	XpEarned             int
	StreakBonusXp        int
	CompletionBonusXp    int
	LeveledUp            bool
	NewLevel             int
	ChallengeCompleted   bool
	UnlockedAchievements []UnlockedAchievement
}

// LeaderboardEntry 是排行榜中的一行，按 CompletedDays 降序排列
type LeaderboardEntry struct {
	UserID        uint
	Username      string
	FirstName     string
	PhotoURL      string
	Level         int
	CompletedDays int
	CurrentStreak int
	BestStreak    int
	Status        string
	IsCreator     bool
}

// track 抽出两条轨道共有的进度字段，打卡/回填逻辑只操作它，
// 结束后由调用方写回 Challenge 或 ChallengeParticipant。
type track struct {
	status        string
	completedDays int
	missedDays    int
	currentStreak int
	bestStreak    int
	completedAt   *time.Time
}

// NewChallengeService 构造 ChallengeService
func NewChallengeService(gdb *gorm.DB, clk clock.Clock, gamification *GamificationService, achievements *AchievementService, generateCode CodeGenerator) *ChallengeService {
	return &ChallengeService{
		db:           gdb,
		clk:          clk,
		gamification: gamification,
		achievements: achievements,
		generateCode: generateCode,
	}
}

// Create 新建挑战，EndDate 在此刻算定后固定不变
func (s *ChallengeService) Create(userID uint, input CreateChallengeInput) (*db.Challenge, []UnlockedAchievement, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, nil, fmt.Errorf("challenge title is required")
	}
	if input.DurationDays <= 0 {
		return nil, nil, fmt.Errorf("duration must be positive")
	}

	challenge := db.Challenge{
		UserID:        userID,
		Title:         strings.TrimSpace(input.Title),
		Description:   strings.TrimSpace(input.Description),
		Icon:          input.Icon,
		Color:         input.Color,
		DurationDays:  input.DurationDays,
		AllowedMisses: input.AllowedMisses,
		StartDate:     input.StartDate,
		EndDate:       clock.AddDays(input.StartDate, input.DurationDays-1),
		Status:        db.ChallengeStatusActive,
	}
	if err := s.db.Create(&challenge).Error; err != nil {
		return nil, nil, fmt.Errorf("create challenge: %w", err)
	}

	unlocked, err := s.achievements.CheckAfterChallengeCreated(userID)
	if err != nil {
		return nil, nil, err
	}
	return &challenge, unlocked, nil
}

// List 返回用户创建与参加的挑战并集（按挑战去重，创建者身份优先），
// 每行附带 TodayCheckedIn，排序为 active 在前、创建时间倒序。
// 读取即回填：活跃挑战先同步漏打天，状态可能在此翻转为 failed。
func (s *ChallengeService) List(userID uint) ([]ChallengeListItem, error) {
	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}
	today := clock.Today(s.clk, user.Timezone)

	var created []db.Challenge
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&created).Error; err != nil {
		return nil, fmt.Errorf("list created challenges: %w", err)
	}

	for i := range created {
		if created[i].Status == db.ChallengeStatusActive {
			if err := s.syncCreatorMissedDays(&created[i], today); err != nil {
				return nil, err
			}
		}
	}

	var participations []db.ChallengeParticipant
	if err := s.db.Preload("Challenge").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&participations).Error; err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}

	// 一次批量查询拿到今天已打卡的挑战集合，避免逐行查库
	ids := make([]uint, 0, len(created)+len(participations))
	for _, c := range created {
		if c.Status == db.ChallengeStatusActive {
			ids = append(ids, c.ID)
		}
	}
	for _, p := range participations {
		if p.Status == db.ChallengeStatusActive {
			ids = append(ids, p.ChallengeID)
		}
	}

	checkedIn := make(map[uint]bool)
	if len(ids) > 0 {
		var rows []db.ChallengeDay
		if err := s.db.Where("challenge_id IN ? AND user_id = ? AND day_date = ? AND status = ?",
			ids, userID, today, db.ChallengeDayCompleted).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("lookup today check-ins: %w", err)
		}
		for _, r := range rows {
			checkedIn[r.ChallengeID] = true
		}
	}

	items := make([]ChallengeListItem, 0, len(created)+len(participations))
	createdIDs := make(map[uint]struct{}, len(created))
	for _, c := range created {
		createdIDs[c.ID] = struct{}{}
		items = append(items, ChallengeListItem{
			Challenge:      c,
			TodayCheckedIn: checkedIn[c.ID],
			IsCreator:      true,
		})
	}
	for _, p := range participations {
		if _, ok := createdIDs[p.ChallengeID]; ok {
			continue
		}
		status := p.Status
		items = append(items, ChallengeListItem{
			Challenge:         p.Challenge,
			TodayCheckedIn:    checkedIn[p.ChallengeID],
			IsCreator:         false,
			ParticipantStatus: &status,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		ai := items[i].Challenge.Status == db.ChallengeStatusActive
		aj := items[j].Challenge.Status == db.ChallengeStatusActive
		if ai != aj {
			return ai
		}
		return items[i].Challenge.CreatedAt.After(items[j].Challenge.CreatedAt)
	})
	return items, nil
}

// Detail 返回挑战详情；创建者读取活跃挑战时顺带回填漏打天。
// 回填可能把状态翻成 failed，调用方拿到的是回填后的状态。
func (s *ChallengeService) Detail(id, userID uint) (*ChallengeDetail, error) {
	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}
	today := clock.Today(s.clk, user.Timezone)

	challenge, participant, isCreator, err := s.resolveMembership(id, userID)
	if err != nil {
		return nil, err
	}

	if isCreator && challenge.Status == db.ChallengeStatusActive {
		if err := s.syncCreatorMissedDays(challenge, today); err != nil {
			return nil, err
		}
	}

	var days []db.ChallengeDay
	if err := s.db.Where("challenge_id = ? AND user_id = ?", id, userID).
		Order("day_date ASC").
		Find(&days).Error; err != nil {
		return nil, fmt.Errorf("list challenge days: %w", err)
	}

	todayCheckedIn := false
	for _, d := range days {
		if d.DayDate == today && d.Status == db.ChallengeDayCompleted {
			todayCheckedIn = true
			break
		}
	}

	return &ChallengeDetail{
		Challenge:      *challenge,
		Days:           days,
		TodayCheckedIn: todayCheckedIn,
		IsCreator:      isCreator,
		Participant:    participant,
	}, nil
}

// CheckIn 为"今天"打卡。创建者与参与者走同一套轨道逻辑，
// 差别仅在进度写回哪一行、以及只有创建者路径会触发整个挑战完成。
func (s *ChallengeService) CheckIn(id, userID uint, note string) (*CheckInResult, error) {
	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}
	today := clock.Today(s.clk, user.Timezone)

	challenge, participant, isCreator, err := s.resolveCheckInTarget(id, userID)
	if err != nil {
		return nil, err
	}

	var tr track
	if isCreator {
		tr = trackFromChallenge(challenge)
	} else {
		tr = trackFromParticipant(participant)
	}

	var (
		day               db.ChallengeDay
		completionBonusXp int
		completed         bool
	)

	// 回填导致的失败要提交而不是回滚：合成的漏打记录和 failed 状态都要落库
	var failErr error
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		day, completionBonusXp, completed, txErr = s.checkInTrack(tx, challenge, userID, &tr, isCreator, today, note)
		if txErr != nil {
			if !errors.Is(txErr, ErrChallengeFailed) {
				return txErr
			}
			failErr = txErr
		}

		if isCreator {
			applyTrackToChallenge(challenge, tr)
			if err := tx.Save(challenge).Error; err != nil {
				return fmt.Errorf("save challenge: %w", err)
			}
		} else {
			applyTrackToParticipant(participant, tr)
			if err := tx.Save(participant).Error; err != nil {
				return fmt.Errorf("save participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failErr != nil {
		return nil, failErr
	}

	streakBonusXp := GetStreakBonus(tr.currentStreak)
	refID := challenge.ID
	xpResult, err := s.gamification.AwardXp(userID, xpPerCheckIn+streakBonusXp+completionBonusXp, db.XpSourceChallenge, &refID)
	if err != nil {
		return nil, err
	}

	var unlocked []UnlockedAchievement
	if completed && isCreator {
		unlocked, err = s.achievements.CheckAfterChallengeCompletion(ChallengeCompletionContext{
			UserID:       userID,
			ChallengeID:  challenge.ID,
			DurationDays: challenge.DurationDays,
			MissedDays:   tr.missedDays,
		})
		if err != nil {
			return nil, err
		}
	}

	return &CheckInResult{
		Day:                  day,
		Challenge:            *challenge,
		XpEarned:             xpPerCheckIn,
		StreakBonusXp:        streakBonusXp,
		CompletionBonusXp:    completionBonusXp,
		LeveledUp:            xpResult.LeveledUp,
		NewLevel:             xpResult.NewLevel,
		ChallengeCompleted:   completed && isCreator,
		UnlockedAchievements: unlocked,
	}, nil
}

// UndoCheckIn 撤销某天的打卡：删掉记录、completedDays 减一并重算连胜。
// 已发放的 XP（含可能的完赛奖励）不回收。
func (s *ChallengeService) UndoCheckIn(id, userID uint, date string) (*ChallengeDetail, error) {
	challenge, participant, isCreator, err := s.resolveMembership(id, userID)
	if err != nil {
		return nil, err
	}

	var day db.ChallengeDay
	if err := s.db.Where("challenge_id = ? AND user_id = ? AND day_date = ? AND status = ?",
		id, userID, date, db.ChallengeDayCompleted).
		First(&day).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: check-in for %s", ErrNotFound, date)
		}
		return nil, fmt.Errorf("find check-in: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&day).Error; err != nil {
			return fmt.Errorf("delete check-in: %w", err)
		}

		streak, err := s.recalculateStreak(tx, id, userID, nil)
		if err != nil {
			return err
		}

		if isCreator {
			challenge.CompletedDays = maxInt(0, challenge.CompletedDays-1)
			challenge.CurrentStreak = streak
			return tx.Save(challenge).Error
		}
		participant.CompletedDays = maxInt(0, participant.CompletedDays-1)
		participant.CurrentStreak = streak
		return tx.Save(participant).Error
	})
	if err != nil {
		return nil, err
	}

	return s.Detail(id, userID)
}

// Abandon 创建者主动放弃，仅允许从 active 出发，可附原因
func (s *ChallengeService) Abandon(id, userID uint, reason string) (*db.Challenge, error) {
	challenge, err := s.getOwned(id, userID)
	if err != nil {
		return nil, err
	}
	if challenge.Status != db.ChallengeStatusActive {
		return nil, fmt.Errorf("%w: challenge %d is %s", ErrInvalidState, id, challenge.Status)
	}

	challenge.Status = db.ChallengeStatusAbandoned
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		challenge.AbandonReason = &trimmed
	}
	if err := s.db.Save(challenge).Error; err != nil {
		return nil, fmt.Errorf("abandon challenge: %w", err)
	}
	return challenge, nil
}

// Update 更新挑战的展示字段，仅允许 active 状态
func (s *ChallengeService) Update(id, userID uint, title, description string) (*db.Challenge, error) {
	challenge, err := s.getOwned(id, userID)
	if err != nil {
		return nil, err
	}
	if challenge.Status != db.ChallengeStatusActive {
		return nil, fmt.Errorf("%w: can only edit active challenges", ErrInvalidState)
	}

	if strings.TrimSpace(title) != "" {
		challenge.Title = strings.TrimSpace(title)
	}
	challenge.Description = strings.TrimSpace(description)
	if err := s.db.Save(challenge).Error; err != nil {
		return nil, fmt.Errorf("update challenge: %w", err)
	}
	return challenge, nil
}

// Delete 硬删挑战及其全部单日记录与参与关系，不依赖外键级联
func (s *ChallengeService) Delete(id, userID uint) error {
	challenge, err := s.getOwned(id, userID)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("challenge_id = ?", id).
			Delete(&db.ChallengeDay{}).Error; err != nil {
			return fmt.Errorf("delete challenge days: %w", err)
		}
		if err := tx.Unscoped().Where("challenge_id = ?", id).
			Delete(&db.ChallengeParticipant{}).Error; err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
		if err := tx.Unscoped().Delete(challenge).Error; err != nil {
			return fmt.Errorf("delete challenge: %w", err)
		}
		return nil
	})
}

// GenerateInviteCode 幂等生成邀请码：已有则原样返回
func (s *ChallengeService) GenerateInviteCode(id, userID uint) (string, error) {
	challenge, err := s.getOwned(id, userID)
	if err != nil {
		return "", err
	}
	if challenge.Status != db.ChallengeStatusActive {
		return "", fmt.Errorf("%w: can only invite to active challenges", ErrInvalidState)
	}
	if challenge.InviteCode != nil {
		return *challenge.InviteCode, nil
	}

	code := s.generateCode(inviteCodeLength)
	challenge.InviteCode = &code
	if err := s.db.Save(challenge).Error; err != nil {
		return "", fmt.Errorf("save invite code: %w", err)
	}
	return code, nil
}

// RevokeInviteCode 撤销邀请码，之后的 join 将找不到该挑战
func (s *ChallengeService) RevokeInviteCode(id, userID uint) error {
	challenge, err := s.getOwned(id, userID)
	if err != nil {
		return err
	}
	challenge.InviteCode = nil
	if err := s.db.Save(challenge).Error; err != nil {
		return fmt.Errorf("revoke invite code: %w", err)
	}
	return nil
}

// JoinByCode 凭邀请码以参与者身份加入
func (s *ChallengeService) JoinByCode(code string, userID uint) (*ChallengeDetail, error) {
	var challenge db.Challenge
	if err := s.db.Where("invite_code = ?", code).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invite code", ErrNotFound)
		}
		return nil, fmt.Errorf("find challenge by code: %w", err)
	}

	if challenge.Status != db.ChallengeStatusActive {
		return nil, fmt.Errorf("%w: challenge is no longer active", ErrInvalidState)
	}
	if challenge.UserID == userID {
		return nil, fmt.Errorf("%w: cannot join own challenge", ErrInvalidState)
	}

	participant := db.ChallengeParticipant{
		ChallengeID: challenge.ID,
		UserID:      userID,
		Status:      db.ChallengeStatusActive,
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&participant)
	if result.Error != nil {
		return nil, fmt.Errorf("join challenge: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: already joined challenge %d", ErrConflict, challenge.ID)
	}

	return s.Detail(challenge.ID, userID)
}

// Leave 参与者退出，连同自己的单日记录一起删掉，重新加入时从零开始
func (s *ChallengeService) Leave(id, userID uint) error {
	var participant db.ChallengeParticipant
	if err := s.db.Where("challenge_id = ? AND user_id = ?", id, userID).
		First(&participant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: participation in challenge %d", ErrNotFound, id)
		}
		return fmt.Errorf("find participation: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("challenge_id = ? AND user_id = ?", id, userID).
			Delete(&db.ChallengeDay{}).Error; err != nil {
			return fmt.Errorf("delete challenge days: %w", err)
		}
		if err := tx.Unscoped().Delete(&participant).Error; err != nil {
			return fmt.Errorf("leave challenge: %w", err)
		}
		return nil
	})
}

// Leaderboard 返回创建者与全部参与者的进度，按完成天数降序。
// 调用者必须与挑战有关系（创建者或参与者）。
func (s *ChallengeService) Leaderboard(id, userID uint) ([]LeaderboardEntry, error) {
	var challenge db.Challenge
	if err := s.db.First(&challenge, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: challenge %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}

	if challenge.UserID != userID {
		var count int64
		if err := s.db.Model(&db.ChallengeParticipant{}).
			Where("challenge_id = ? AND user_id = ?", id, userID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check membership: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: challenge %d", ErrForbidden, id)
		}
	}

	var creator db.User
	if err := s.db.First(&creator, challenge.UserID).Error; err != nil {
		return nil, fmt.Errorf("load creator: %w", err)
	}

	var participants []db.ChallengeParticipant
	if err := s.db.Preload("User").
		Where("challenge_id = ?", id).
		Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(participants)+1)
	entries = append(entries, LeaderboardEntry{
		UserID:        creator.ID,
		Username:      creator.Username,
		FirstName:     creator.FirstName,
		PhotoURL:      creator.PhotoURL,
		Level:         creator.Level,
		CompletedDays: challenge.CompletedDays,
		CurrentStreak: challenge.CurrentStreak,
		BestStreak:    challenge.BestStreak,
		Status:        challenge.Status,
		IsCreator:     true,
	})
	for _, p := range participants {
		entries = append(entries, LeaderboardEntry{
			UserID:        p.User.ID,
			Username:      p.User.Username,
			FirstName:     p.User.FirstName,
			PhotoURL:      p.User.PhotoURL,
			Level:         p.User.Level,
			CompletedDays: p.CompletedDays,
			CurrentStreak: p.CurrentStreak,
			BestStreak:    p.BestStreak,
			Status:        p.Status,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CompletedDays > entries[j].CompletedDays
	})
	return entries, nil
}

// ── 内部逻辑 ──────────────────────────────────────────────────────────────

// checkInTrack 执行一条轨道的完整打卡：状态/窗口校验、回填、
// 漏打赎回、记天与连胜结算。返回新建的 day、完赛奖励与是否整体完成。
func (s *ChallengeService) checkInTrack(tx *gorm.DB, challenge *db.Challenge, userID uint, tr *track, isCreator bool, today, note string) (db.ChallengeDay, int, bool, error) {
	var zero db.ChallengeDay

	if challenge.Status != db.ChallengeStatusActive || tr.status != db.ChallengeStatusActive {
		return zero, 0, false, fmt.Errorf("%w: challenge %d is not active", ErrInvalidState, challenge.ID)
	}
	if today < challenge.StartDate || today > challenge.EndDate {
		return zero, 0, false, fmt.Errorf("%w: today is outside the challenge period", ErrInvalidState)
	}

	var existing db.ChallengeDay
	err := tx.Where("challenge_id = ? AND user_id = ? AND day_date = ?", challenge.ID, userID, today).
		First(&existing).Error
	hasExisting := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, 0, false, fmt.Errorf("check today: %w", err)
	}
	if hasExisting && existing.Status == db.ChallengeDayCompleted {
		return zero, 0, false, fmt.Errorf("%w: already checked in on %s", ErrConflict, today)
	}

	// 先回填漏打天：可能把该轨道推过失败阈值
	if err := s.syncMissedDaysTrack(tx, challenge, userID, tr, today); err != nil {
		return zero, 0, false, err
	}
	if tr.status != db.ChallengeStatusActive {
		return zero, 0, false, ErrChallengeFailed
	}

	// 今天已被回填成 missed 的话，本次打卡把它赎回
	if hasExisting && existing.Status == db.ChallengeDayMissed {
		if err := tx.Unscoped().Delete(&existing).Error; err != nil {
			return zero, 0, false, fmt.Errorf("redeem missed day: %w", err)
		}
		tr.missedDays = maxInt(0, tr.missedDays-1)
	}

	day := db.ChallengeDay{
		ChallengeID: challenge.ID,
		UserID:      userID,
		DayDate:     today,
		Status:      db.ChallengeDayCompleted,
		Note:        strings.TrimSpace(note),
		XpEarned:    xpPerCheckIn,
	}
	if err := tx.Create(&day).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return zero, 0, false, fmt.Errorf("%w: already checked in on %s", ErrConflict, today)
		}
		return zero, 0, false, fmt.Errorf("create challenge day: %w", err)
	}

	tr.completedDays++

	streak, err := s.recalculateStreak(tx, challenge.ID, userID, &day)
	if err != nil {
		return zero, 0, false, err
	}
	tr.currentStreak = streak
	if streak > tr.bestStreak {
		tr.bestStreak = streak
	}

	// 完成判定：完成天 + 漏打天覆盖全时长。
	// 完赛奖励只在创建者轨道发放；参与者自己的轨道只终结状态。
	completionBonus := 0
	completed := false
	if tr.completedDays+tr.missedDays >= challenge.DurationDays {
		tr.status = db.ChallengeStatusCompleted
		now := s.clk.Now()
		tr.completedAt = &now
		completed = true
		if isCreator {
			completionBonus = getCompletionBonus(challenge.DurationDays)
		}
	}

	return day, completionBonus, completed, nil
}

// syncMissedDaysTrack 把 [startDate, min(昨天, endDate)] 内缺失的天
// 合成为 missed 记录并累加漏打数；超过 allowedMisses 即翻转为 failed。
// 幂等：已存在的天不会重复计数。
func (s *ChallengeService) syncMissedDaysTrack(tx *gorm.DB, challenge *db.Challenge, userID uint, tr *track, today string) error {
	if tr.status != db.ChallengeStatusActive {
		return nil
	}

	yesterday := clock.AddDays(today, -1)
	if yesterday < challenge.StartDate {
		return nil
	}

	endCheck := yesterday
	if endCheck > challenge.EndDate {
		endCheck = challenge.EndDate
	}

	var existing []db.ChallengeDay
	if err := tx.Where("challenge_id = ? AND user_id = ?", challenge.ID, userID).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("load challenge days: %w", err)
	}
	existingDates := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		existingDates[d.DayDate] = struct{}{}
	}

	newMisses := 0
	for current := challenge.StartDate; current <= endCheck; current = clock.AddDays(current, 1) {
		if _, ok := existingDates[current]; ok {
			continue
		}
		missed := db.ChallengeDay{
			ChallengeID: challenge.ID,
			UserID:      userID,
			DayDate:     current,
			Status:      db.ChallengeDayMissed,
		}
		if err := tx.Create(&missed).Error; err != nil {
			return fmt.Errorf("create missed day: %w", err)
		}
		newMisses++
	}

	if newMisses > 0 {
		tr.missedDays += newMisses
		if tr.missedDays > challenge.AllowedMisses {
			tr.status = db.ChallengeStatusFailed
		}
	}
	return nil
}

// syncCreatorMissedDays 是读取路径上对创建者轨道的回填入口
func (s *ChallengeService) syncCreatorMissedDays(challenge *db.Challenge, today string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		tr := trackFromChallenge(challenge)
		before := tr.missedDays
		if err := s.syncMissedDaysTrack(tx, challenge, challenge.UserID, &tr, today); err != nil {
			return err
		}
		if tr.missedDays == before {
			return nil
		}
		applyTrackToChallenge(challenge, tr)
		if err := tx.Save(challenge).Error; err != nil {
			return fmt.Errorf("save challenge: %w", err)
		}
		return nil
	})
}

// recalculateStreak 逆向数连续打卡天，最多回看 365 天；
// pending 是本次事务尚未提交可见的打卡，作为虚拟记录并入。
func (s *ChallengeService) recalculateStreak(tx *gorm.DB, challengeID, userID uint, pending *db.ChallengeDay) (int, error) {
	var days []db.ChallengeDay
	if err := tx.Where("challenge_id = ? AND user_id = ? AND status = ?",
		challengeID, userID, db.ChallengeDayCompleted).
		Order("day_date DESC").
		Limit(365).
		Find(&days).Error; err != nil {
		return 0, fmt.Errorf("load completed days: %w", err)
	}

	dates := make([]string, 0, len(days)+1)
	seen := make(map[string]struct{}, len(days)+1)
	for _, d := range days {
		if _, ok := seen[d.DayDate]; !ok {
			seen[d.DayDate] = struct{}{}
			dates = append(dates, d.DayDate)
		}
	}
	if pending != nil {
		if _, ok := seen[pending.DayDate]; !ok {
			dates = append(dates, pending.DayDate)
		}
	}
	if len(dates) == 0 {
		return 0, nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	streak := 1
	for i := 1; i < len(dates); i++ {
		if dates[i] != clock.AddDays(dates[i-1], -1) {
			break
		}
		streak++
	}
	return streak, nil
}

// resolveMembership 找出调用者与挑战的关系：创建者或参与者，否则 NotFound
func (s *ChallengeService) resolveMembership(id, userID uint) (*db.Challenge, *db.ChallengeParticipant, bool, error) {
	var challenge db.Challenge
	err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&challenge).Error
	if err == nil {
		return &challenge, nil, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, false, fmt.Errorf("load challenge: %w", err)
	}

	var participant db.ChallengeParticipant
	if err := s.db.Preload("Challenge").
		Where("challenge_id = ? AND user_id = ?", id, userID).
		First(&participant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, false, fmt.Errorf("%w: challenge %d", ErrNotFound, id)
		}
		return nil, nil, false, fmt.Errorf("load participation: %w", err)
	}
	return &participant.Challenge, &participant, false, nil
}

// resolveCheckInTarget 与 resolveMembership 类似，但非成员的存在挑战返回 Forbidden
func (s *ChallengeService) resolveCheckInTarget(id, userID uint) (*db.Challenge, *db.ChallengeParticipant, bool, error) {
	var challenge db.Challenge
	if err := s.db.First(&challenge, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, false, fmt.Errorf("%w: challenge %d", ErrNotFound, id)
		}
		return nil, nil, false, fmt.Errorf("load challenge: %w", err)
	}

	if challenge.UserID == userID {
		return &challenge, nil, true, nil
	}

	var participant db.ChallengeParticipant
	if err := s.db.Where("challenge_id = ? AND user_id = ?", id, userID).
		First(&participant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, false, fmt.Errorf("%w: not a participant of challenge %d", ErrForbidden, id)
		}
		return nil, nil, false, fmt.Errorf("load participation: %w", err)
	}
	return &challenge, &participant, false, nil
}

func (s *ChallengeService) getOwned(id, userID uint) (*db.Challenge, error) {
	var challenge db.Challenge
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: challenge %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	return &challenge, nil
}

func (s *ChallengeService) loadUser(userID uint) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

func trackFromChallenge(c *db.Challenge) track {
	return track{
		status:        c.Status,
		completedDays: c.CompletedDays,
		missedDays:    c.MissedDays,
		currentStreak: c.CurrentStreak,
		bestStreak:    c.BestStreak,
		completedAt:   c.CompletedAt,
	}
}

func applyTrackToChallenge(c *db.Challenge, tr track) {
	c.Status = tr.status
	c.CompletedDays = tr.completedDays
	c.MissedDays = tr.missedDays
	c.CurrentStreak = tr.currentStreak
	c.BestStreak = tr.bestStreak
	c.CompletedAt = tr.completedAt
}

func trackFromParticipant(p *db.ChallengeParticipant) track {
	return track{
		status:        p.Status,
		completedDays: p.CompletedDays,
		missedDays:    p.MissedDays,
		currentStreak: p.CurrentStreak,
		bestStreak:    p.BestStreak,
		completedAt:   p.CompletedAt,
	}
}

func applyTrackToParticipant(p *db.ChallengeParticipant, tr track) {
	p.Status = tr.status
	p.CompletedDays = tr.completedDays
	p.MissedDays = tr.missedDays
	p.CurrentStreak = tr.currentStreak
	p.BestStreak = tr.bestStreak
	p.CompletedAt = tr.completedAt
}

func getCompletionBonus(durationDays int) int {
	if bonus, ok := completionXp[durationDays]; ok {
		return bonus
	}
	return durationDays * 8
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
