package wal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// ============================================================================
// Test Helpers
// ============================================================================

var walNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func openTestWAL(t *testing.T, opts Options) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.wal")
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return walNow }
	}
	w, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func testResult() *types.ScheduleResult {
	return &types.ScheduleResult{
		TotalDuration: 5,
		Explanation:   "按交期优先排产",
		Tasks: []types.ScheduleTask{
			{TaskID: "t1", ProjectID: "P1", PartID: "A", ResourceID: "L-0", ResourceName: "车床", StartTime: 0, Duration: 2},
			{TaskID: "t2", ProjectID: "P1", PartID: "A", ResourceID: "M-0", ResourceName: "铣床", StartTime: 2, Duration: 3},
		},
	}
}

func completedTask(id string) types.ScheduleTask {
	at := walNow.Add(30 * time.Minute)
	return types.ScheduleTask{TaskID: id, Completed: true, CompletedAt: &at}
}

func collect(t *testing.T, w *WAL, after uint64) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, w.Replay(after, func(e Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

// ============================================================================
// Append / Replay
// ============================================================================

func TestAppendAndReplay(t *testing.T) {
	w, _ := openTestWAL(t, Options{SyncOnAppend: true})

	ev, err := w.Append(ReplaceEvent(1, testResult()))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, walNow.UnixMilli(), ev.Timestamp)
	assert.NotZero(t, ev.Checksum)

	ev, err = w.Append(ToggleEvent(completedTask("t2")))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, uint64(2), w.LastSeq())

	events := collect(t, w, 0)
	require.Len(t, events, 2)

	assert.Equal(t, EventReplace, events[0].Type)
	assert.Equal(t, uint64(1), events[0].Revision)
	require.NotNil(t, events[0].Result)
	assert.Equal(t, testResult().Tasks, events[0].Result.Tasks)

	assert.Equal(t, EventToggle, events[1].Type)
	assert.Equal(t, "t2", events[1].TaskID)
	assert.True(t, events[1].Completed)
	require.NotNil(t, events[1].CompletedAt)
	assert.True(t, walNow.Add(30*time.Minute).Equal(*events[1].CompletedAt))
}

func TestReplayAfterSeq(t *testing.T) {
	w, _ := openTestWAL(t, Options{})
	for i := 0; i < 5; i++ {
		_, err := w.Append(ToggleEvent(completedTask("t1")))
		require.NoError(t, err)
	}

	events := collect(t, w, 3)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(4), events[0].Seq)
	assert.Equal(t, uint64(5), events[1].Seq)
}

func TestReplayHandlerErrorStops(t *testing.T) {
	w, _ := openTestWAL(t, Options{})
	for i := 0; i < 3; i++ {
		_, err := w.Append(ToggleEvent(completedTask("t1")))
		require.NoError(t, err)
	}

	boom := errors.New("boom")
	calls := 0
	err := w.Replay(0, func(Event) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestReopenContinuesSeq(t *testing.T) {
	w, path := openTestWAL(t, Options{})
	_, err := w.Append(ReplaceEvent(1, testResult()))
	require.NoError(t, err)
	_, err = w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := Open(path, Options{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(2), reopened.LastSeq())

	ev, err := reopened.Append(ToggleEvent(completedTask("t2")))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ev.Seq)
	require.NoError(t, ValidateWAL(path))
}

func TestClosedWAL(t *testing.T) {
	w, _ := openTestWAL(t, Options{})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.Append(ToggleEvent(completedTask("t1")))
	assert.ErrorIs(t, err, ErrWALClosed)
	assert.ErrorIs(t, w.Replay(0, func(Event) error { return nil }), ErrWALClosed)
	assert.ErrorIs(t, w.Rotate(), ErrWALClosed)
}

// ============================================================================
// Corruption
// ============================================================================

func TestOpenTruncatesTornTail(t *testing.T) {
	w, path := openTestWAL(t, Options{})
	_, err := w.Append(ReplaceEvent(1, testResult()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"type":"TOG`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path, Options{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(1), reopened.LastSeq())

	_, err = reopened.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)

	count, err := CountEvents(path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChecksumMismatch(t *testing.T) {
	w, path := openTestWAL(t, Options{})
	_, err := w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"task_id":"t1"`, `"task_id":"t9"`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, err = Open(path, Options{})
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var csErr *ChecksumError
	require.True(t, errors.As(err, &csErr))
	assert.Equal(t, uint64(1), csErr.Seq)
	assert.Contains(t, csErr.Error(), "seq=1")
}

func TestCorruptedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))

	_, err := Open(path, Options{})
	assert.ErrorIs(t, err, ErrCorruptedWAL)

	var corrupt *CorruptionError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, int64(0), corrupt.Offset)
}

// ============================================================================
// Rotation
// ============================================================================

func TestRotateKeepsSeq(t *testing.T) {
	w, path := openTestWAL(t, Options{})
	_, err := w.Append(ReplaceEvent(1, testResult()))
	require.NoError(t, err)

	require.NoError(t, w.Rotate())
	assert.Equal(t, uint64(1), w.LastSeq())
	assert.Empty(t, collect(t, w, 0))

	ev, err := w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ev.Seq)

	events, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events, 1)

	matches, err := filepath.Glob(path + ".*.gz")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRotateArchives(t *testing.T) {
	w, path := openTestWAL(t, Options{ArchiveRotated: true})
	_, err := w.Append(ReplaceEvent(1, testResult()))
	require.NoError(t, err)
	_, err = w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)

	require.NoError(t, w.Rotate())

	matches, err := filepath.Glob(path + ".*.gz")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	archived, err := ReadAll(matches[0])
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}

func TestRotateArchiveFailureKeepsWAL(t *testing.T) {
	w, path := openTestWAL(t, Options{ArchiveRotated: true})
	_, err := w.Append(ReplaceEvent(1, testResult()))
	require.NoError(t, err)

	// 歸檔路徑被目錄佔用，壓縮必定失敗
	archive := path + "." + walNow.UTC().Format("20060102T150405.000") + ".gz"
	require.NoError(t, os.MkdirAll(filepath.Join(archive, "busy"), 0o755))

	err = w.Rotate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive")

	// 日誌仍可追加，且未被截斷
	ev, err := w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ev.Seq)

	events := collect(t, w, 0)
	require.Len(t, events, 2)
	assert.Equal(t, EventReplace, events[0].Type)
	assert.Equal(t, EventToggle, events[1].Type)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Rotate(), ErrWALClosed)
}

func TestAdvanceTo(t *testing.T) {
	w, _ := openTestWAL(t, Options{})
	w.AdvanceTo(41)
	w.AdvanceTo(7)

	ev, err := w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), ev.Seq)
}

// ============================================================================
// Utilities
// ============================================================================

func TestStatsAndDump(t *testing.T) {
	w, path := openTestWAL(t, Options{})
	_, err := w.Append(ReplaceEvent(1, testResult()))
	require.NoError(t, err)
	_, err = w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)
	_, err = w.Append(ToggleEvent(types.ScheduleTask{TaskID: "t1"}))
	require.NoError(t, err)

	stats, err := GetStats(path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, 1, stats.EventTypes[EventReplace])
	assert.Equal(t, 2, stats.EventTypes[EventToggle])
	assert.Equal(t, uint64(1), stats.FirstSeq)
	assert.Equal(t, uint64(3), stats.LastSeq)

	last, err := GetLastEvent(path)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.False(t, last.Completed)

	var buf bytes.Buffer
	require.NoError(t, DumpWAL(path, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[Seq:1] REPLACE rev=1 tasks=2")
	assert.Contains(t, lines[1], "TOGGLE t1 completed=true")
}

func TestValidateDetectsGap(t *testing.T) {
	w, path := openTestWAL(t, Options{})
	_, err := w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)
	w.AdvanceTo(5)
	_, err = w.Append(ToggleEvent(completedTask("t1")))
	require.NoError(t, err)

	assert.ErrorIs(t, ValidateWAL(path), ErrSeqGap)
}

func TestEmptyFile(t *testing.T) {
	_, path := openTestWAL(t, Options{})

	last, err := GetLastEvent(path)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.NoError(t, ValidateWAL(path))
}
