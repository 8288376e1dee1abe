package snapshot

// ============================================================================
// Snapshot Manager 測試檔案
// 職責：驗證快照的原子性寫入、載入、版本驗證與備份清理
// ============================================================================

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

func sampleSnapshot() types.LedgerSnapshot {
	done := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return types.LedgerSnapshot{
		Result: &types.ScheduleResult{
			TotalDuration: 6,
			Explanation:   "按交期优先排产",
			Tasks: []types.ScheduleTask{
				{TaskID: "t1", ProjectID: "P1", PartID: "A", ResourceID: "L-0", ResourceName: "Lathe", StartTime: 0, Duration: 2, Completed: true, CompletedAt: &done},
				{TaskID: "t2", ProjectID: "P1", PartID: "A", ResourceID: "OUTSOURCE", ResourceName: "外发-热处理", StartTime: 2, Duration: 4},
			},
		},
		Revision: 3,
		LastSeq:  17,
	}
}

// ============================================================================
// 基礎功能測試
// ============================================================================

func TestNewManager(t *testing.T) {
	manager := NewManager("ledger.snapshot.json")
	assert.Equal(t, "ledger.snapshot.json", manager.Path())
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	manager := NewManager(path)

	original := sampleSnapshot()
	require.NoError(t, manager.Write(original))
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, loaded.SchemaVer)
	assert.Equal(t, original.Revision, loaded.Revision)
	assert.Equal(t, original.LastSeq, loaded.LastSeq)
	require.NotNil(t, loaded.Result)
	require.Len(t, loaded.Result.Tasks, 2)
	assert.True(t, loaded.Result.Tasks[0].Completed)
	assert.True(t, original.Result.Tasks[0].CompletedAt.Equal(*loaded.Result.Tasks[0].CompletedAt))
	assert.Equal(t, "外发-热处理", loaded.Result.Tasks[1].ResourceName)

	// 不留下臨時檔
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.json")
	manager := NewManager(path)

	require.NoError(t, manager.Write(sampleSnapshot()))
	assert.FileExists(t, path)
}

func TestLoadMissingFile(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "missing.json"))

	data, err := manager.Load()
	require.NoError(t, err)
	assert.Nil(t, data.Result)
	assert.Equal(t, SchemaVersion, data.SchemaVer)
	assert.False(t, manager.Exists())
}

// ============================================================================
// 錯誤處理測試
// ============================================================================

func TestLoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewManager(path).Load()
	assert.ErrorIs(t, err, ErrCorruptedSnapshot)
}

func TestLoadIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	raw, err := json.Marshal(map[string]any{"schema_ver": 99, "revision": 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = NewManager(path).Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestOverwriteKeepsLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	manager := NewManager(path)

	first := sampleSnapshot()
	require.NoError(t, manager.Write(first))

	second := sampleSnapshot()
	second.Revision = 4
	second.Result.Tasks = second.Result.Tasks[:1]
	require.NoError(t, manager.Write(second))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), loaded.Revision)
	assert.Len(t, loaded.Result.Tasks, 1)
}

// ============================================================================
// 備份測試
// ============================================================================

func TestWriteWithBackupPrunesOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	manager := NewManager(path)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	manager.clock = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for rev := uint64(1); rev <= 5; rev++ {
		data := sampleSnapshot()
		data.Revision = rev
		require.NoError(t, manager.WriteWithBackup(data, 2))
	}

	backups, err := manager.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	// 最新的備份是第 4 版
	old := NewManager(backups[1])
	data, err := old.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), data.Revision)

	current, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), current.Revision)
}

func TestWriteWithBackupDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	manager := NewManager(path)

	require.NoError(t, manager.WriteWithBackup(sampleSnapshot(), 0))
	require.NoError(t, manager.WriteWithBackup(sampleSnapshot(), 0))

	backups, err := manager.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}
