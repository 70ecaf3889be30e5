package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRenderMarkdownSanitizes(t *testing.T) {
	got := RenderMarkdown("**加油** <script>alert(1)</script>")
	if !strings.Contains(got, "<strong>加油</strong>") {
		t.Fatalf("bold not rendered: %q", got)
	}
	if strings.Contains(got, "<script>") {
		t.Fatalf("script tag must be stripped: %q", got)
	}
	// 块级标签不在 Telegram 白名单里
	if strings.Contains(got, "<p>") {
		t.Fatalf("block tags must be stripped: %q", got)
	}
}

func TestSendMessageDisabledWithoutToken(t *testing.T) {
	n := NewTelegram("https://api.telegram.org", "", zap.NewNop())
	if n.Enabled() {
		t.Fatal("notifier without token must be disabled")
	}
	if err := n.SendMessage(1, "hello"); err != nil {
		t.Fatalf("disabled send should be a no-op, got %v", err)
	}
}

func TestSendMessagePostsPayload(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewTelegram(server.URL, "token123", zap.NewNop())
	if err := n.SendMessage(42, "<b>你好</b>"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["chat_id"].(float64) != 42 || gotBody["parse_mode"] != "HTML" {
		t.Fatalf("unexpected payload: %v", gotBody)
	}
}

func TestSendMessageReportsAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	n := NewTelegram(server.URL, "token123", zap.NewNop())
	if err := n.SendMessage(42, "hi"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestChallengeFailedMessageIncludesDescription(t *testing.T) {
	msg := ChallengeFailedMessage("早睡", "每晚 *11 点* 前睡觉")
	if !strings.Contains(msg, "<b>早睡</b>") {
		t.Fatalf("title missing: %q", msg)
	}
	if !strings.Contains(msg, "<em>11 点</em>") {
		t.Fatalf("description not rendered: %q", msg)
	}

	plain := ChallengeFailedMessage("早睡", "  ")
	if strings.Contains(plain, "\n") {
		t.Fatalf("blank description should be omitted: %q", plain)
	}
}

// 昵称和标题是用户输入，带标签字符时必须转义，否则 Bot API 拒收整条消息
func TestMessagesEscapeUserInput(t *testing.T) {
	msg := LevelUpMessage("<脚本>小明", 3)
	if strings.Contains(msg, "<脚本>") {
		t.Fatalf("first name not escaped: %q", msg)
	}
	if !strings.Contains(msg, "&lt;脚本&gt;小明") {
		t.Fatalf("expected escaped first name, got %q", msg)
	}

	msg = AchievementMessage("a<b>c", 20)
	if !strings.Contains(msg, "a&lt;b&gt;c") {
		t.Fatalf("achievement name not escaped: %q", msg)
	}

	msg = ChallengeFailedMessage("少喝<奶茶>", "")
	if !strings.Contains(msg, "<b>少喝&lt;奶茶&gt;</b>") {
		t.Fatalf("challenge title not escaped: %q", msg)
	}
}
