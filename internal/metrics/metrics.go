// ============================================================================
// MechFlow Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露排產系統的運行指標
//
// 指標分類:
//
//   1. 排產計數器 (Counter)：
//      - mechflow_schedules_generated_total: 成功排產次數
//      - mechflow_schedule_failures_total{reason}: 排產失敗次數
//        reason = validation | canceled | internal
//      - mechflow_capability_gaps_total{process_type}: 產能缺口（外發）工序數
//      - mechflow_task_toggles_total{state}: 任務完成狀態切換次數
//        state = completed | reopened
//      - mechflow_drawings_analysed_total{status}: 圖紙分析次數
//
//   2. 性能指標 (Histogram)：
//      - mechflow_schedule_generation_seconds: 排產耗時分佈
//
//   3. 狀態指標 (Gauge)，反映目前台帳內容：
//      - mechflow_scheduled_tasks / mechflow_outsourced_tasks / mechflow_completed_tasks
//      - mechflow_makespan_hours: 總工期（小時）
//      - mechflow_recovery_time_seconds: 最近一次從快照與 WAL 恢復的耗時
//
// Prometheus 查詢示例:
//
//   # 外發比例
//   mechflow_outsourced_tasks / mechflow_scheduled_tasks
//
//   # 完成進度
//   mechflow_completed_tasks / mechflow_scheduled_tasks
//
//   # 95 分位排產耗時
//   histogram_quantile(0.95, rate(mechflow_schedule_generation_seconds_bucket[5m]))
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mechflow"

// 失敗原因
const (
	ReasonValidation = "validation"
	ReasonCanceled   = "canceled"
	ReasonInternal   = "internal"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 排產相關指標
	schedulesGenerated prometheus.Counter
	scheduleFailures   *prometheus.CounterVec
	capabilityGaps     *prometheus.CounterVec
	generationLatency  prometheus.Histogram

	// 台帳狀態
	scheduledTasks  prometheus.Gauge
	outsourcedTasks prometheus.Gauge
	completedTasks  prometheus.Gauge
	makespan        prometheus.Gauge
	toggles         *prometheus.CounterVec
	recoveryTime    prometheus.Gauge

	// 圖紙分析
	drawingsAnalysed *prometheus.CounterVec
}

// NewCollector 創建並註冊指標收集器
//
// reg 為 nil 時註冊到 prometheus.DefaultRegisterer。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		schedulesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_generated_total",
			Help:      "Total number of schedules generated successfully",
		}),
		scheduleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_failures_total",
			Help:      "Total number of schedule requests that produced no result",
		}, []string{"reason"}),
		capabilityGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_gaps_total",
			Help:      "Steps scheduled on the outsourcing resource, by process type",
		}, []string{"process_type"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schedule_generation_seconds",
			Help:      "Time spent generating a schedule in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		scheduledTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_tasks",
			Help:      "Number of tasks in the current schedule",
		}),
		outsourcedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outsourced_tasks",
			Help:      "Number of outsourced tasks in the current schedule",
		}),
		completedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "completed_tasks",
			Help:      "Number of completed tasks in the current schedule",
		}),
		makespan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "makespan_hours",
			Help:      "Total duration of the current schedule in hours",
		}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_toggles_total",
			Help:      "Total number of task completion toggles",
		}, []string{"state"}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_time_seconds",
			Help:      "Time taken to restore the ledger from snapshot and WAL",
		}),
		drawingsAnalysed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drawings_analysed_total",
			Help:      "Total number of drawings analysed, by resulting status",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.schedulesGenerated,
		c.scheduleFailures,
		c.capabilityGaps,
		c.generationLatency,
		c.scheduledTasks,
		c.outsourcedTasks,
		c.completedTasks,
		c.makespan,
		c.toggles,
		c.recoveryTime,
		c.drawingsAnalysed,
	)
	return c
}

// RecordSchedule 記錄一次成功排產
//
// outsourced 為每個外發工序的工藝類型（可重複）。
func (c *Collector) RecordSchedule(seconds float64, outsourced []string) {
	c.schedulesGenerated.Inc()
	c.generationLatency.Observe(seconds)
	for _, pt := range outsourced {
		c.capabilityGaps.WithLabelValues(pt).Inc()
	}
}

// RecordFailure 記錄排產失敗
func (c *Collector) RecordFailure(reason string) {
	c.scheduleFailures.WithLabelValues(reason).Inc()
}

// RecordToggle 記錄任務完成狀態切換
func (c *Collector) RecordToggle(completed bool) {
	state := "reopened"
	if completed {
		state = "completed"
	}
	c.toggles.WithLabelValues(state).Inc()
}

// RecordAnalysis 記錄圖紙分析結果
func (c *Collector) RecordAnalysis(status string) {
	c.drawingsAnalysed.WithLabelValues(status).Inc()
}

// SetRecoveryTime 設置恢復時間
func (c *Collector) SetRecoveryTime(seconds float64) {
	c.recoveryTime.Set(seconds)
}

// UpdateLedgerStats 更新台帳狀態
func (c *Collector) UpdateLedgerStats(total, outsourced, completed int, makespanHours float64) {
	c.scheduledTasks.Set(float64(total))
	c.outsourcedTasks.Set(float64(outsourced))
	c.completedTasks.Set(float64(completed))
	c.makespan.Set(makespanHours)
}

// Handler 暴露指標的 HTTP handler
//
// g 為 nil 時使用 prometheus.DefaultGatherer。
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
