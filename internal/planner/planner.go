// ============================================================================
// MechFlow Planner - 排產協調器
// ============================================================================
//
// Package: internal/planner
// 文件: planner.go
// 功能: 串接產能檢查、排產、任務台帳、WAL 與快照
//
// 排產流程 Plan():
//   1. capability.Annotate()   - 依目前資源重新計算每個零件的 warnings
//   2. analysis.Schedulable()  - 只保留分析完成的零件
//   3. scheduler.Generate()    - 產生排產結果（驗證失敗或取消則整體放棄）
//   4. WAL REPLACE             - 先寫日誌
//   5. ledger.Replace()        - 再取代台帳中的結果
//
// 崩潰恢復 Start():
//   1. loadSnapshot() - 從最新快照恢復台帳
//   2. replayWAL()    - 重放快照之後的 REPLACE / TOGGLE
//   重放是冪等的：TOGGLE 事件記錄的是結果狀態，而不是「翻轉」。
//
// 並發安全:
//   - mu 串行化「寫 WAL + 修改台帳」，確保日誌順序與台帳一致
//   - 讀取（Current / Stats）直接走台帳的讀鎖
//   - stopCh + WaitGroup 控制快照循環
//
// ============================================================================

package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/mechflow/internal/analysis"
	"github.com/ChuLiYu/mechflow/internal/capability"
	"github.com/ChuLiYu/mechflow/internal/ledger"
	"github.com/ChuLiYu/mechflow/internal/logger"
	"github.com/ChuLiYu/mechflow/internal/metrics"
	"github.com/ChuLiYu/mechflow/internal/scheduler"
	"github.com/ChuLiYu/mechflow/internal/snapshot"
	"github.com/ChuLiYu/mechflow/internal/storage/wal"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Planner 配置
type Config struct {
	WALPath          string        // 空字串表示不持久化
	SnapshotPath     string        // 快照檔案路徑
	SnapshotInterval time.Duration // 0 表示不啟動定期快照
	SnapshotBackups  int           // 保留的舊快照數量
	SyncWAL          bool          // 每筆事件都 fsync
	ArchiveWAL       bool          // 旋轉時 gzip 封存舊 WAL
}

// Option Planner 選項
type Option func(*Planner)

// WithMetrics 掛上 Prometheus 指標
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Planner) { p.metrics = c }
}

// WithClock 指定完成時間的時間來源
func WithClock(clock func() time.Time) Option {
	return func(p *Planner) { p.clock = clock }
}

// Report 一次排產的完整回報
type Report struct {
	Result   *types.ScheduleResult      `json:"result"`
	Revision uint64                     `json:"revision"`
	Warnings []capability.PartWarnings  `json:"warnings"`
	Projects []scheduler.ProjectSummary `json:"projects"`
	Skipped  []string                   `json:"skipped,omitempty"` // 未分析完成而跳過的零件
}

// Planner 排產協調器
type Planner struct {
	mu       sync.Mutex // 保護 WAL 寫入與台帳修改的順序
	ledger   *ledger.Ledger
	wal      *wal.WAL          // 可為 nil
	snapshot *snapshot.Manager // 可為 nil
	metrics  *metrics.Collector
	log      *logger.Logger
	config   Config
	clock    func() time.Time

	stopCh  chan struct{}
	started bool
	stopped bool
	loopWg  sync.WaitGroup
}

// ============================================================================
// 生命週期
// ============================================================================

// New 建立 Planner，WALPath 不為空時開啟 WAL
func New(config Config, opts ...Option) (*Planner, error) {
	p := &Planner{
		config: config,
		clock:  time.Now,
		log:    logger.L().Named("planner"),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ledger = ledger.New(ledger.WithClock(p.clock))

	if config.WALPath != "" {
		w, err := wal.Open(config.WALPath, wal.Options{
			SyncOnAppend:   config.SyncWAL,
			ArchiveRotated: config.ArchiveWAL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open WAL: %w", err)
		}
		p.wal = w
	}
	if config.SnapshotPath != "" {
		p.snapshot = snapshot.NewManager(config.SnapshotPath)
	}
	return p, nil
}

// Start 恢復台帳並啟動快照循環
func (p *Planner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("planner already started")
	}
	p.started = true
	p.mu.Unlock()

	start := time.Now()
	lastSeq, err := p.loadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("loadSnapshot failed: %w", err)
	}
	replayed, err := p.replayWAL(ctx, lastSeq)
	if err != nil {
		return fmt.Errorf("replayWAL failed: %w", err)
	}

	recovery := time.Since(start)
	if p.metrics != nil {
		p.metrics.SetRecoveryTime(recovery.Seconds())
	}
	p.updateGauges()

	stats := p.ledger.Stats()
	p.log.Info(ctx, "ledger recovered",
		logger.Duration("duration", recovery),
		logger.Uint64("revision", stats.Revision),
		logger.Int("tasks", stats.Total),
		logger.Int("replayed_events", replayed))

	if p.wal != nil && p.snapshot != nil && p.config.SnapshotInterval > 0 {
		p.loopWg.Add(1)
		go p.snapshotLoop(ctx)
	}
	return nil
}

// Stop 停止快照循環，寫入最後一次快照並關閉 WAL
func (p *Planner) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	p.loopWg.Wait()

	var errs []error
	// 未恢復過的台帳不能覆蓋既有快照
	if started && p.wal != nil && p.snapshot != nil {
		if err := p.TakeSnapshot(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}
	if p.wal != nil {
		if err := p.wal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close WAL: %w", err))
		}
	}

	p.log.Info(ctx, "planner stopped")
	return errors.Join(errs...)
}

// ============================================================================
// 排產
// ============================================================================

// Plan 產生新的排產結果並取代台帳中的結果
//
// 驗證失敗或取消時台帳保持不變。
func (p *Planner) Plan(ctx context.Context, input types.PlanInput) (*Report, error) {
	report, err := p.generate(ctx, input)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	revision := p.ledger.Revision() + 1
	if p.wal != nil {
		if _, err := p.wal.Append(wal.ReplaceEvent(revision, report.Result)); err != nil {
			p.mu.Unlock()
			p.recordFailure(metrics.ReasonInternal)
			return nil, fmt.Errorf("failed to append REPLACE event: %w", err)
		}
	}
	report.Revision = p.ledger.Replace(report.Result)
	p.mu.Unlock()

	p.updateGauges()
	p.log.Info(ctx, "schedule replaced",
		logger.Uint64("revision", report.Revision),
		logger.Int("tasks", len(report.Result.Tasks)),
		logger.Float64("total_hours", report.Result.TotalDuration))
	return report, nil
}

// Preview 產生排產結果但不寫入台帳
func (p *Planner) Preview(ctx context.Context, input types.PlanInput) (*Report, error) {
	return p.generate(ctx, input)
}

func (p *Planner) generate(ctx context.Context, input types.PlanInput) (*Report, error) {
	annotated := capability.Annotate(input.Projects, input.Resources)
	schedulable := analysis.Schedulable(annotated)

	var skipped []string
	for _, project := range annotated {
		for _, part := range project.Parts {
			if !part.Schedulable() {
				skipped = append(skipped, part.ID)
			}
		}
	}

	start := time.Now()
	result, err := scheduler.Generate(ctx, schedulable, input.Resources)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrValidation):
			p.recordFailure(metrics.ReasonValidation)
			p.log.Warn(ctx, "schedule rejected", logger.ErrorF(err))
		case errors.Is(err, scheduler.ErrCanceled):
			p.recordFailure(metrics.ReasonCanceled)
			p.log.Info(ctx, "schedule canceled", logger.ErrorF(err))
		default:
			p.recordFailure(metrics.ReasonInternal)
			p.log.Error(ctx, "schedule failed", logger.ErrorF(err))
		}
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordSchedule(elapsed.Seconds(), outsourcedPerTask(result))
	}

	warnings := capability.Report(annotated)
	report := &Report{
		Result:   result,
		Warnings: warnings,
		Projects: scheduler.Summarize(schedulable, result),
		Skipped:  skipped,
	}
	p.log.Debug(ctx, "schedule generated",
		logger.Duration("took", elapsed),
		logger.Int("tasks", len(result.Tasks)),
		logger.String("capability_gaps", capability.Summary(warnings)),
		logger.Strings("outsourced", scheduler.OutsourcedTypes(result)),
		logger.Int("skipped_parts", len(skipped)))
	return report, nil
}

// ============================================================================
// 任務台帳
// ============================================================================

// Toggle 翻轉任務完成狀態（先寫 WAL 再修改台帳）
func (p *Planner) Toggle(ctx context.Context, taskID string) (types.ScheduleTask, error) {
	p.mu.Lock()
	current, err := p.ledger.Task(taskID)
	if err != nil {
		p.mu.Unlock()
		return types.ScheduleTask{}, err
	}

	flipped, err := ledger.Toggle([]types.ScheduleTask{current}, taskID, p.clock())
	if err != nil {
		p.mu.Unlock()
		return types.ScheduleTask{}, err
	}
	next := flipped[0]

	if p.wal != nil {
		if _, err := p.wal.Append(wal.ToggleEvent(next)); err != nil {
			p.mu.Unlock()
			return types.ScheduleTask{}, fmt.Errorf("failed to append TOGGLE event: %w", err)
		}
	}
	task, err := p.ledger.Apply(taskID, next.Completed, next.CompletedAt)
	p.mu.Unlock()
	if err != nil {
		return types.ScheduleTask{}, err
	}

	if p.metrics != nil {
		p.metrics.RecordToggle(task.Completed)
	}
	p.updateGauges()
	p.log.Info(ctx, "task toggled",
		logger.String("task_id", taskID),
		logger.Bool("completed", task.Completed))
	return task, nil
}

// Current 目前的排產結果
func (p *Planner) Current() (*types.ScheduleResult, error) {
	return p.ledger.Result()
}

// Stats 台帳統計
func (p *Planner) Stats() ledger.Stats {
	return p.ledger.Stats()
}

// ============================================================================
// 快照與恢復
// ============================================================================

// TakeSnapshot 寫入快照並旋轉 WAL
func (p *Planner) TakeSnapshot(ctx context.Context) error {
	if p.wal == nil || p.snapshot == nil {
		return nil
	}
	start := time.Now()

	// 持鎖期間不允許新的事件，保證 LastSeq 與台帳內容一致
	p.mu.Lock()
	defer p.mu.Unlock()

	data := p.ledger.Snapshot()
	data.LastSeq = p.wal.LastSeq()

	if err := p.snapshot.WriteWithBackup(data, p.config.SnapshotBackups); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := p.wal.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate WAL: %w", err)
	}

	p.log.Debug(ctx, "snapshot taken",
		logger.Duration("duration", time.Since(start)),
		logger.Uint64("last_seq", data.LastSeq),
		logger.Uint64("revision", data.Revision))
	return nil
}

func (p *Planner) snapshotLoop(ctx context.Context) {
	defer p.loopWg.Done()
	ticker := time.NewTicker(p.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.TakeSnapshot(ctx); err != nil {
				p.log.Error(ctx, "failed to take snapshot", logger.ErrorF(err))
			}
		}
	}
}

// loadSnapshot 從快照恢復台帳，回傳快照涵蓋的最後 WAL 序號
func (p *Planner) loadSnapshot(ctx context.Context) (uint64, error) {
	if p.snapshot == nil {
		return 0, nil
	}

	data, err := p.snapshot.Load()
	if err != nil {
		return 0, err
	}
	if err := p.ledger.Restore(data); err != nil {
		return 0, err
	}
	if p.wal != nil {
		p.wal.AdvanceTo(data.LastSeq)
	}

	p.log.Debug(ctx, "snapshot loaded",
		logger.Uint64("last_seq", data.LastSeq),
		logger.Uint64("revision", data.Revision))
	return data.LastSeq, nil
}

// replayWAL 重放快照之後的事件
func (p *Planner) replayWAL(ctx context.Context, afterSeq uint64) (int, error) {
	if p.wal == nil {
		return 0, nil
	}

	replayed := 0
	err := p.wal.Replay(afterSeq, func(event wal.Event) error {
		replayed++
		switch event.Type {
		case wal.EventReplace:
			return p.ledger.Restore(types.LedgerSnapshot{
				Result:   event.Result,
				Revision: event.Revision,
			})

		case wal.EventToggle:
			_, err := p.ledger.Apply(event.TaskID, event.Completed, event.CompletedAt)
			if errors.Is(err, ledger.ErrTaskNotFound) || errors.Is(err, ledger.ErrNoSchedule) {
				// 事件屬於已被取代的排產結果
				p.log.Warn(ctx, "skip toggle for unknown task",
					logger.Uint64("seq", event.Seq),
					logger.String("task_id", event.TaskID))
				return nil
			}
			return err

		default:
			return fmt.Errorf("unknown WAL event type %q at seq %d", event.Type, event.Seq)
		}
	})
	return replayed, err
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (p *Planner) recordFailure(reason string) {
	if p.metrics != nil {
		p.metrics.RecordFailure(reason)
	}
}

func (p *Planner) updateGauges() {
	if p.metrics == nil {
		return
	}
	stats := p.ledger.Stats()
	makespan := 0.0
	if result, err := p.ledger.Result(); err == nil {
		makespan = result.TotalDuration
	}
	p.metrics.UpdateLedgerStats(stats.Total, stats.Outsourced, stats.Completed, makespan)
}

// outsourcedPerTask 每個外發任務的工藝類型（可重複）
func outsourcedPerTask(result *types.ScheduleResult) []string {
	var out []string
	for _, task := range result.Tasks {
		if task.IsOutsourced() {
			out = append(out, strings.TrimPrefix(task.ResourceName, types.OutsourceNamePrefix))
		}
	}
	return out
}
