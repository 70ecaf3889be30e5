package clock

import (
	"testing"
	"time"
)

func TestTodayRespectsTimezone(t *testing.T) {
	// UTC 2026-01-10 23:30 在上海已是 1 月 11 日
	c := Fixed{T: time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)}

	if got := Today(c, "UTC"); got != "2026-01-10" {
		t.Fatalf("UTC today = %s", got)
	}
	if got := Today(c, "Asia/Shanghai"); got != "2026-01-11" {
		t.Fatalf("Shanghai today = %s", got)
	}
	// 未知时区回退 UTC
	if got := Today(c, "Not/AZone"); got != "2026-01-10" {
		t.Fatalf("fallback today = %s", got)
	}
}

func TestAddDays(t *testing.T) {
	cases := []struct {
		date string
		days int
		want string
	}{
		{"2026-01-10", 1, "2026-01-11"},
		{"2026-01-10", -1, "2026-01-09"},
		{"2026-01-31", 1, "2026-02-01"},
		{"2026-02-28", 1, "2026-03-01"},
		{"2026-01-01", -1, "2025-12-31"},
	}
	for _, c := range cases {
		if got := AddDays(c.date, c.days); got != c.want {
			t.Errorf("AddDays(%s, %d) = %s, want %s", c.date, c.days, got, c.want)
		}
	}
}

func TestDaysInclusive(t *testing.T) {
	if got := DaysInclusive("2026-01-10", "2026-01-10"); got != 1 {
		t.Fatalf("same day should count 1, got %d", got)
	}
	if got := DaysInclusive("2026-01-01", "2026-01-07"); got != 7 {
		t.Fatalf("week should count 7, got %d", got)
	}
	if got := DaysInclusive("2026-01-10", "2026-01-09"); got != 0 {
		t.Fatalf("reversed range should count 0, got %d", got)
	}
}
