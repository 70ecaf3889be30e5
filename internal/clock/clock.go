package clock

import "time"

// DateLayout 是全部日历日期字符串使用的格式。
// 连续打卡/冻结等判断全部基于日历日期而非时间戳。
const DateLayout = "2006-01-02"

// Clock 抽象当前时间来源，测试中可替换为固定时间。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System 返回读取系统时间的 Clock。
func System() Clock { return systemClock{} }

// Fixed 返回始终指向 t 的 Clock。
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// Today 按用户时区解析出"今天"的日历日期字符串。
// 时区无法识别时回退到 UTC。
func Today(c Clock, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	return c.Now().In(loc).Format(DateLayout)
}

// AddDays 对日历日期字符串做天数偏移。
func AddDays(date string, days int) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(DateLayout)
}

// DaysInclusive 返回 [start, end] 包含的天数，end 在 start 之前时返回 0。
func DaysInclusive(start, end string) int {
	s, err1 := time.Parse(DateLayout, start)
	e, err2 := time.Parse(DateLayout, end)
	if err1 != nil || err2 != nil || e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}
