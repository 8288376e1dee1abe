// ============================================================================
// MechFlow 任務台帳 - 排產任務的完成狀態管理
// ============================================================================
//
// Package: internal/ledger
// 文件: ledger.go
// 功能: 追蹤已產生任務的完成狀態，與重新排產互相獨立
//
// 設計理念:
//   1. Toggle() - 純函式版本，輸入任務列表，回傳新的列表（不修改輸入）
//   2. Ledger  - 持有「目前」排產結果的並發安全容器
//      ├─ Replace() 以新排產結果整體取代（不合併）
//      ├─ Toggle()  翻轉完成狀態，記錄/清除完成時間
//      └─ Snapshot()/Restore() 供快照持久化使用
//
// 不可變欄位:
//   StartTime、Duration、ResourceID 等排產欄位永遠不被修改，
//   只有 Completed 與 CompletedAt 可以變動。
//
// 並發安全:
//   - sync.RWMutex 保護所有資料
//   - 不同 taskId 的 Toggle 互不衝突
//   - 同一 taskId 的並發 Toggle 以最後寫入為準
//
// ============================================================================

package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務不存在
	ErrTaskNotFound = errors.New("task not found")
	// 尚未產生任何排產結果
	ErrNoSchedule = errors.New("no schedule generated")
)

// NotFoundError 指出找不到的任務 ID
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTaskNotFound, e.TaskID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrTaskNotFound
}

// ============================================================================
// 純函式
// ============================================================================

// Toggle 翻轉指定任務的完成狀態，回傳新的任務列表
//
// 參數說明：
//   - tasks: 原始任務列表（不會被修改）
//   - taskID: 要翻轉的任務
//   - now: 完成時間（false→true 時寫入）
//
// 返回值：
//   - []types.ScheduleTask: 新的任務列表
//   - error: 找不到任務時回傳 *NotFoundError
func Toggle(tasks []types.ScheduleTask, taskID string, now time.Time) ([]types.ScheduleTask, error) {
	idx := -1
	for i := range tasks {
		if tasks[i].TaskID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &NotFoundError{TaskID: taskID}
	}

	out := types.CloneTasks(tasks)
	flip(&out[idx], now)
	return out, nil
}

// flip 只修改完成相關欄位
func flip(task *types.ScheduleTask, now time.Time) {
	if task.Completed {
		task.Completed = false
		task.CompletedAt = nil
		return
	}
	at := now
	task.Completed = true
	task.CompletedAt = &at
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Clock 時間來源，測試時可替換
type Clock func() time.Time

// Option Ledger 的設定選項
type Option func(*Ledger)

// WithClock 指定完成時間的時間來源
func WithClock(clock Clock) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// Ledger 任務台帳
type Ledger struct {
	mu       sync.RWMutex
	result   *types.ScheduleResult // 目前的排產結果（台帳私有副本）
	index    map[string]int        // taskID → Tasks 的 index
	revision uint64                // 每次 Replace 遞增
	clock    Clock
}

// Stats 台帳統計
type Stats struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Pending    int     `json:"pending"`
	Outsourced int     `json:"outsourced"`
	Progress   float64 `json:"progress"` // 已完成比例，0~1
	Revision   uint64  `json:"revision"`
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立空的任務台帳
//
// 併發安全：返回的實例是執行緒安全的
func New(opts ...Option) *Ledger {
	l := &Ledger{
		index: make(map[string]int),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Replace 以新的排產結果整體取代目前結果
//
// 台帳保存的是副本，呼叫端之後修改 result 不會影響台帳。
func (l *Ledger) Replace(result *types.ScheduleResult) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setLocked(result.Clone())
	l.revision++
	return l.revision
}

// Toggle 翻轉任務完成狀態
//
// 返回值：
//   - types.ScheduleTask: 更新後的任務
//   - error: ErrNoSchedule 或 *NotFoundError
func (l *Ledger) Toggle(taskID string) (types.ScheduleTask, error) {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	task, err := l.lookupLocked(taskID)
	if err != nil {
		return types.ScheduleTask{}, err
	}
	flip(task, now)
	return cloneTask(*task), nil
}

// Apply 直接設定任務的完成狀態（WAL 重放用，不讀取時鐘）
func (l *Ledger) Apply(taskID string, completed bool, at *time.Time) (types.ScheduleTask, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, err := l.lookupLocked(taskID)
	if err != nil {
		return types.ScheduleTask{}, err
	}

	task.Completed = completed
	task.CompletedAt = nil
	if completed && at != nil {
		stamp := *at
		task.CompletedAt = &stamp
	}
	return cloneTask(*task), nil
}

// Task 取得單一任務
func (l *Ledger) Task(taskID string) (types.ScheduleTask, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.result == nil {
		return types.ScheduleTask{}, ErrNoSchedule
	}
	i, ok := l.index[taskID]
	if !ok {
		return types.ScheduleTask{}, &NotFoundError{TaskID: taskID}
	}
	return cloneTask(l.result.Tasks[i]), nil
}

// Result 取得目前排產結果的副本
func (l *Ledger) Result() (*types.ScheduleResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.result == nil {
		return nil, ErrNoSchedule
	}
	return l.result.Clone(), nil
}

// Revision 目前的排產版本號（0 表示尚未排產）
func (l *Ledger) Revision() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revision
}

// Stats 取得台帳統計
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{Revision: l.revision}
	if l.result == nil {
		return stats
	}

	for _, task := range l.result.Tasks {
		stats.Total++
		if task.Completed {
			stats.Completed++
		}
		if task.IsOutsourced() {
			stats.Outsourced++
		}
	}
	stats.Pending = stats.Total - stats.Completed
	if stats.Total > 0 {
		stats.Progress = float64(stats.Completed) / float64(stats.Total)
	}
	return stats
}

// ============================================================================
// 快照與恢復相關方法
// ============================================================================

// Snapshot 產生台帳快照（深拷貝）
func (l *Ledger) Snapshot() types.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return types.LedgerSnapshot{
		Result:    l.result.Clone(),
		Revision:  l.revision,
		SchemaVer: 1,
	}
}

// Restore 從快照恢復台帳狀態
func (l *Ledger) Restore(data types.LedgerSnapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if data.Result != nil {
		seen := make(map[string]struct{}, len(data.Result.Tasks))
		for _, task := range data.Result.Tasks {
			if _, dup := seen[task.TaskID]; dup {
				return fmt.Errorf("restore ledger: duplicate task id %q", task.TaskID)
			}
			seen[task.TaskID] = struct{}{}
		}
	}

	l.setLocked(data.Result.Clone())
	l.revision = data.Revision
	return nil
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (l *Ledger) setLocked(result *types.ScheduleResult) {
	l.result = result
	l.index = make(map[string]int)
	if result == nil {
		return
	}
	for i, task := range result.Tasks {
		l.index[task.TaskID] = i
	}
}

func (l *Ledger) lookupLocked(taskID string) (*types.ScheduleTask, error) {
	if l.result == nil {
		return nil, ErrNoSchedule
	}
	i, ok := l.index[taskID]
	if !ok {
		return nil, &NotFoundError{TaskID: taskID}
	}
	return &l.result.Tasks[i], nil
}

func cloneTask(task types.ScheduleTask) types.ScheduleTask {
	if task.CompletedAt != nil {
		at := *task.CompletedAt
		task.CompletedAt = &at
	}
	return task
}
