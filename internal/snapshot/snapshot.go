package snapshot

// ============================================================================
// 職責說明：
// 1. 將任務台帳（排產結果 + 完成狀態）序列化為 JSON 快照檔
// 2. 使用原子性寫入（temp file + fsync + rename）防止半寫入的快照
// 3. 載入時驗證 schema 版本相容性
// 4. 可選保留舊版本備份，超過數量的備份會被清理
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// SchemaVersion 目前的快照格式版本
const SchemaVersion = 1

const backupLayout = "20060102T150405.000000000"

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Manager 快照管理器
type Manager struct {
	path  string     // 快照檔案路徑
	mu    sync.Mutex // 保護檔案操作
	clock func() time.Time
}

// NewManager 建立快照管理器實例
func NewManager(path string) *Manager {
	return &Manager{
		path:  path,
		clock: time.Now,
	}
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Write 原子性寫入快照
//
// 流程：寫入 <path>.tmp → fsync → rename 覆蓋原檔。
// 任何一步失敗，原本的快照保持不變。
func (m *Manager) Write(data types.LedgerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(data)
}

// WriteWithBackup 寫入快照，並把舊快照改名為帶時間戳的備份
//
// keepBackups <= 0 表示不保留備份。
func (m *Manager) WriteWithBackup(data types.LedgerSnapshot, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keepBackups > 0 && m.existsLocked() {
		backupPath := m.path + "." + m.clock().UTC().Format(backupLayout)
		if err := copyFile(m.path, backupPath); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
	}

	if err := m.writeLocked(data); err != nil {
		return err
	}
	return m.pruneLocked(keepBackups)
}

// Load 載入快照
//
// 行為：
//   - 檔案不存在時回傳空快照（首次啟動）
//   - 無法解析時回傳 ErrCorruptedSnapshot
//   - 版本不符時回傳 ErrIncompatibleVersion
func (m *Manager) Load() (types.LedgerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var data types.LedgerSnapshot

	raw, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.LedgerSnapshot{SchemaVer: SchemaVersion}, nil
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	return data, nil
}

// Exists 檢查快照檔案是否存在
func (m *Manager) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsLocked()
}

// Backups 列出現有備份（由舊到新）
func (m *Manager) Backups() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupsLocked()
}

// Path 取得快照檔案路徑
func (m *Manager) Path() string {
	return m.path
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (m *Manager) writeLocked(data types.LedgerSnapshot) error {
	data.SchemaVer = SchemaVersion

	// 帶縮排，方便人工檢查台帳內容
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

func (m *Manager) existsLocked() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

func (m *Manager) backupsLocked() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".*")
	if err != nil {
		return nil, err
	}
	backups := matches[:0]
	for _, p := range matches {
		suffix := strings.TrimPrefix(p, m.path+".")
		if _, err := time.Parse(backupLayout, suffix); err == nil {
			backups = append(backups, p)
		}
	}
	// 時間戳格式固定寬度，字典序即時間序
	sort.Strings(backups)
	return backups, nil
}

func (m *Manager) pruneLocked(keep int) error {
	backups, err := m.backupsLocked()
	if err != nil {
		return fmt.Errorf("failed to list snapshot backups: %w", err)
	}
	if keep < 0 {
		keep = 0
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to prune snapshot backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}

func copyFile(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, raw, 0o644)
}
