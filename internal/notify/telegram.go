package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.Linkify),
	)
	// Telegram 的 parse_mode=HTML 只接受少量内联标签，
	// 渲染结果按此白名单裁剪
	sanitizer = buildTelegramPolicy()
)

func buildTelegramPolicy() *bluemonday.Policy {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("b", "strong", "i", "em", "u", "s", "code", "pre")
	policy.AllowAttrs("href").OnElements("a")
	policy.AllowURLSchemes("http", "https")
	return policy
}

// Telegram 通过 Bot API 向用户推送提醒消息。
// botToken 为空时发送退化为空操作，便于本地无凭据运行。
type Telegram struct {
	apiBase  string
	botToken string
	client   *http.Client
	logger   *zap.Logger
}

// NewTelegram 构造 Telegram 通知器
func NewTelegram(apiBase, botToken string, logger *zap.Logger) *Telegram {
	return &Telegram{
		apiBase:  strings.TrimRight(apiBase, "/"),
		botToken: botToken,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Enabled 报告通知器是否配置了凭据
func (t *Telegram) Enabled() bool {
	return t.botToken != ""
}

// SendMessage 以 HTML 模式推送一条消息
func (t *Telegram) SendMessage(chatID int64, html string) error {
	if !t.Enabled() {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       html,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("telegram send failed",
			zap.Int64("chat_id", chatID),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("telegram api status %d", resp.StatusCode)
	}
	return nil
}

// RenderMarkdown 把用户写的 Markdown 描述渲染为 Telegram 可用的 HTML。
// 渲染结果经白名单裁剪，用户输入不会穿透到消息里。
func RenderMarkdown(source string) string {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(source), &buf); err != nil {
		return sanitizer.Sanitize(source)
	}
	return strings.TrimSpace(sanitizer.Sanitize(buf.String()))
}

// LevelUpMessage 升级提醒。昵称来自用户输入，进入 parse_mode=HTML 前必须转义。
func LevelUpMessage(firstName string, level int) string {
	return fmt.Sprintf("<b>%s</b>，你升到了 <b>%d</b> 级！", html.EscapeString(firstName), level)
}

// AchievementMessage 成就解锁提醒
func AchievementMessage(name string, xp int) string {
	return fmt.Sprintf("成就解锁：<b>%s</b>（+%d XP）", html.EscapeString(name), xp)
}

// ChallengeFailedMessage 挑战失败提醒，附带渲染后的挑战描述。
// 标题是用户输入，转义后再进标签；描述走 markdown 渲染加白名单裁剪。
func ChallengeFailedMessage(title, description string) string {
	msg := fmt.Sprintf("挑战 <b>%s</b> 因漏打太多天而失败。", html.EscapeString(title))
	if strings.TrimSpace(description) != "" {
		msg += "\n" + RenderMarkdown(description)
	}
	return msg
}
