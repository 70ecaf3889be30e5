package service

import "errors"

// 核心层统一的失败分类，handler 负责映射为 HTTP 状态码。
// 各服务在检测点用 fmt.Errorf("%w: ...") 附加实体上下文。
var (
	// ErrNotFound 实体不存在，或不属于调用者
	ErrNotFound = errors.New("not found")
	// ErrConflict 同日重复打卡、重复加入、已存在活跃目标等冲突
	ErrConflict = errors.New("conflict")
	// ErrInvalidState 对非 active 的挑战/目标/参与记录做动作，或日期越界
	ErrInvalidState = errors.New("invalid state")
	// ErrForbidden 对与调用者无关的挑战做动作
	ErrForbidden = errors.New("forbidden")
)
