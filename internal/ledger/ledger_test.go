package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var fixedNow = time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// newTestResult 產生 n 個任務的排產結果，第一個任務外發
func newTestResult(n int) *types.ScheduleResult {
	result := &types.ScheduleResult{Explanation: "test"}
	for i := 0; i < n; i++ {
		task := types.ScheduleTask{
			TaskID:       fmt.Sprintf("task-%d", i),
			ProjectID:    "P1",
			PartID:       "A",
			Description:  fmt.Sprintf("step %d", i+1),
			ResourceID:   "L-0",
			ResourceName: "车床",
			StartTime:    float64(i) * 2,
			Duration:     2,
		}
		if i == 0 {
			task.ResourceID = types.OutsourceResourceID
			task.ResourceName = types.OutsourceName(types.ProcessLathe)
		}
		result.Tasks = append(result.Tasks, task)
	}
	result.TotalDuration = float64(n) * 2
	return result
}

// assertScheduleFieldsUnchanged 完成狀態以外的欄位不應改變
func assertScheduleFieldsUnchanged(t *testing.T, before, after types.ScheduleTask) {
	t.Helper()
	before.Completed, after.Completed = false, false
	before.CompletedAt, after.CompletedAt = nil, nil
	assert.Equal(t, before, after)
}

// ============================================================================
// Pure Toggle
// ============================================================================

func TestToggle_FlipsAndStamps(t *testing.T) {
	tasks := newTestResult(2).Tasks

	out, err := Toggle(tasks, "task-1", fixedNow)
	require.NoError(t, err)

	assert.True(t, out[1].Completed)
	require.NotNil(t, out[1].CompletedAt)
	assert.Equal(t, fixedNow, *out[1].CompletedAt)
	assert.False(t, out[0].Completed)
	assertScheduleFieldsUnchanged(t, tasks[1], out[1])

	// 輸入不被修改
	assert.False(t, tasks[1].Completed)
	assert.Nil(t, tasks[1].CompletedAt)
}

func TestToggle_TwiceRestoresOriginal(t *testing.T) {
	tasks := newTestResult(3).Tasks

	once, err := Toggle(tasks, "task-2", fixedNow)
	require.NoError(t, err)
	twice, err := Toggle(once, "task-2", fixedNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, tasks, twice)
}

func TestToggle_NotFound(t *testing.T) {
	tasks := newTestResult(2).Tasks

	out, err := Toggle(tasks, "nope", fixedNow)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nope", nf.TaskID)
	assert.Contains(t, err.Error(), "nope")
}

func TestToggle_EmptyList(t *testing.T) {
	_, err := Toggle(nil, "task-0", fixedNow)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// ============================================================================
// Ledger
// ============================================================================

func TestLedger_EmptyState(t *testing.T) {
	l := New()

	_, err := l.Result()
	assert.ErrorIs(t, err, ErrNoSchedule)
	_, err = l.Toggle("task-0")
	assert.ErrorIs(t, err, ErrNoSchedule)
	_, err = l.Task("task-0")
	assert.ErrorIs(t, err, ErrNoSchedule)

	assert.Equal(t, Stats{}, l.Stats())
	assert.Zero(t, l.Revision())
}

func TestLedger_ReplaceKeepsPrivateCopy(t *testing.T) {
	l := New(WithClock(fixedClock))
	result := newTestResult(2)

	rev := l.Replace(result)
	assert.Equal(t, uint64(1), rev)

	result.Tasks[0].StartTime = 99
	got, err := l.Result()
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Tasks[0].StartTime)

	got.Tasks[1].Completed = true
	again, err := l.Result()
	require.NoError(t, err)
	assert.False(t, again.Tasks[1].Completed)
}

func TestLedger_ReplaceDiscardsCompletion(t *testing.T) {
	l := New(WithClock(fixedClock))
	l.Replace(newTestResult(2))

	_, err := l.Toggle("task-0")
	require.NoError(t, err)

	assert.Equal(t, uint64(2), l.Replace(newTestResult(2)))
	task, err := l.Task("task-0")
	require.NoError(t, err)
	assert.False(t, task.Completed)
}

func TestLedger_Toggle(t *testing.T) {
	l := New(WithClock(fixedClock))
	l.Replace(newTestResult(3))
	before, err := l.Task("task-1")
	require.NoError(t, err)

	task, err := l.Toggle("task-1")
	require.NoError(t, err)
	assert.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, fixedNow, *task.CompletedAt)
	assertScheduleFieldsUnchanged(t, before, task)

	task, err = l.Toggle("task-1")
	require.NoError(t, err)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)

	_, err = l.Toggle("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestLedger_Apply(t *testing.T) {
	l := New()
	l.Replace(newTestResult(2))

	at := fixedNow.Add(-time.Hour)
	task, err := l.Apply("task-1", true, &at)
	require.NoError(t, err)
	assert.True(t, task.Completed)
	assert.Equal(t, at, *task.CompletedAt)

	// 回傳值是副本
	*task.CompletedAt = fixedNow
	stored, err := l.Task("task-1")
	require.NoError(t, err)
	assert.Equal(t, at, *stored.CompletedAt)

	task, err = l.Apply("task-1", false, nil)
	require.NoError(t, err)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)
}

func TestLedger_Stats(t *testing.T) {
	l := New(WithClock(fixedClock))
	l.Replace(newTestResult(4))

	_, err := l.Toggle("task-0")
	require.NoError(t, err)
	_, err = l.Toggle("task-3")
	require.NoError(t, err)

	stats := l.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Outsourced)
	assert.InDelta(t, 0.5, stats.Progress, 1e-9)
	assert.Equal(t, uint64(1), stats.Revision)
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := New(WithClock(fixedClock))
	l.Replace(newTestResult(3))
	l.Replace(newTestResult(3))
	_, err := l.Toggle("task-2")
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, uint64(2), snap.Revision)
	assert.Equal(t, 1, snap.SchemaVer)

	restored := New()
	require.NoError(t, restored.Restore(snap))

	assert.Equal(t, l.Stats(), restored.Stats())
	task, err := restored.Task("task-2")
	require.NoError(t, err)
	assert.True(t, task.Completed)

	// 快照與台帳互不影響
	snap.Result.Tasks[0].Completed = true
	task, err = restored.Task("task-0")
	require.NoError(t, err)
	assert.False(t, task.Completed)
}

func TestLedger_RestoreRejectsDuplicateIDs(t *testing.T) {
	result := newTestResult(2)
	result.Tasks[1].TaskID = result.Tasks[0].TaskID

	err := New().Restore(types.LedgerSnapshot{Result: result, Revision: 1})
	assert.Error(t, err)
}

func TestLedger_RestoreEmpty(t *testing.T) {
	l := New()
	l.Replace(newTestResult(1))

	require.NoError(t, l.Restore(types.LedgerSnapshot{}))
	_, err := l.Result()
	assert.ErrorIs(t, err, ErrNoSchedule)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestLedger_ConcurrentToggleDistinctTasks(t *testing.T) {
	const n = 50
	l := New(WithClock(fixedClock))
	l.Replace(newTestResult(n))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Toggle(fmt.Sprintf("task-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats := l.Stats()
	assert.Equal(t, n, stats.Completed)
	assert.Equal(t, 0, stats.Pending)
}

func TestLedger_ConcurrentToggleSameTask(t *testing.T) {
	const n = 40 // 偶數次翻轉後應回到未完成
	l := New(WithClock(fixedClock))
	l.Replace(newTestResult(1))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Toggle("task-0")
			_ = l.Stats()
		}()
	}
	wg.Wait()

	task, err := l.Task("task-0")
	require.NoError(t, err)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)
}
