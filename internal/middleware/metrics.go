package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReqCount 统计 HTTP 请求总量
	ReqCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habitflow_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ReqDuration 统计请求耗时分布
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "habitflow_request_duration_seconds",
			Help: "Request duration seconds",
		},
		[]string{"method", "path"},
	)

	// XpAwarded 统计各来源发放的 XP 总量
	XpAwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habitflow_xp_awarded_total",
			Help: "Total XP awarded by source",
		},
		[]string{"source"},
	)
)

// InitMetrics 向默认 registry 注册全部指标
func InitMetrics() {
	prometheus.MustRegister(ReqCount, ReqDuration, XpAwarded)
}
