package wal

// ============================================================================
// WAL 核心實作
// 職責：
// 1. 追加台帳事件到日誌檔案（append-only，每行一筆 JSON）
// 2. 提供重放功能以恢復台帳狀態
// 3. 支援日誌旋轉（快照後清空，可選 gzip 封存）
// 4. 確保寫入持久性與資料完整性
// ============================================================================

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Options WAL 設定
type Options struct {
	SyncOnAppend   bool             // 每次追加都 fsync
	ArchiveRotated bool             // 旋轉時把舊檔壓縮為 <path>.<timestamp>.gz，否則直接刪除
	Clock          func() time.Time // 事件時間戳來源，預設 time.Now
}

// WAL 表示 Write-Ahead Log 實例
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	seq    uint64 // 最後一筆事件的序號
	opts   Options
	closed bool
}

// ============================================================================
// 公開介面
// ============================================================================

/*
Open 建立或開啟一個 WAL 實例

行為：
- 檔案不存在時建立新檔案，seq 從 0 開始
- 檔案已存在時掃描全部記錄，以最後一筆事件的 seq 繼續編號
- 檔尾若有未寫完的半行（崩潰時的殘留），截斷後再繼續追加
- 中間的記錄損壞或校驗和錯誤時回傳錯誤，不自動修復
*/
func Open(path string, opts Options) (*WAL, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("wal: create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	lastSeq, goodOffset, err := scan(file, nil)
	if err != nil {
		file.Close()
		return nil, err
	}

	// 截掉殘缺的尾巴，並把寫入位置移到檔尾
	if err := file.Truncate(goodOffset); err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: truncate torn tail: %w", err)
	}
	if _, err := file.Seek(goodOffset, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}

	return &WAL{
		file: file,
		path: path,
		seq:  lastSeq,
		opts: opts,
	}, nil
}

// Append 追加一個事件到 WAL
//
// 自動指定 seq、時間戳與 checksum，回傳寫入後的事件。
func (w *WAL) Append(event Event) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Event{}, ErrWALClosed
	}

	event.Seq = w.seq + 1
	event.Timestamp = w.opts.Clock().UnixMilli()
	sum, err := CalculateChecksum(event)
	if err != nil {
		return Event{}, fmt.Errorf("wal: encode seq=%d: %w", event.Seq, err)
	}
	event.Checksum = sum

	line, err := json.Marshal(event)
	if err != nil {
		return Event{}, fmt.Errorf("wal: encode seq=%d: %w", event.Seq, err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		return Event{}, fmt.Errorf("wal: append seq=%d: %w", event.Seq, err)
	}
	if w.opts.SyncOnAppend {
		if err := w.file.Sync(); err != nil {
			return Event{}, fmt.Errorf("wal: sync seq=%d: %w", event.Seq, err)
		}
	}

	w.seq = event.Seq
	return event, nil
}

// Replay 重放 seq 大於 afterSeq 的事件
//
// 行為：
// - 從頭讀取 WAL 檔案
// - 驗證每個事件的 checksum
// - 呼叫 handler 應用事件，handler 回傳錯誤時立即停止
func (w *WAL) Replay(afterSeq uint64, handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	file, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, _, err = scan(file, func(event Event) error {
		if event.Seq <= afterSeq {
			return nil
		}
		return handler(event)
	})
	return err
}

// Rotate 旋轉日誌檔案
//
// 快照完成後呼叫；seq 不歸零，讓快照的 LastSeq 與之後的事件保持可比較。
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	if w.opts.ArchiveRotated {
		archive := fmt.Sprintf("%s.%s.gz", w.path, w.opts.Clock().UTC().Format("20060102T150405.000"))
		if err := compressFile(w.path, archive); err != nil {
			// 歸檔失敗時保留原日誌，重新開啟以繼續追加
			_ = os.Remove(archive)
			if reopenErr := w.reopen(); reopenErr != nil {
				return errors.Join(fmt.Errorf("wal: archive: %w", err), reopenErr)
			}
			return fmt.Errorf("wal: archive: %w", err)
		}
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		w.closed = true
		return err
	}
	w.file = file
	return nil
}

// reopen 以追加模式重新開啟日誌，失敗時 WAL 視為已關閉
func (w *WAL) reopen() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		w.closed = true
		return err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		w.closed = true
		return err
	}
	w.file = file
	return nil
}

// AdvanceTo 讓之後的事件序號至少從 seq+1 開始
//
// 旋轉後重啟時 WAL 是空的，需要以快照的 LastSeq 接續編號。
func (w *WAL) AdvanceTo(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.seq {
		w.seq = seq
	}
}

// LastSeq 取得當前的事件序號
func (w *WAL) LastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Path WAL 檔案路徑
func (w *WAL) Path() string {
	return w.path
}

// Close 關閉 WAL；關閉後的實例不可再使用
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// ============================================================================
// 內部輔助方法（私有）
// ============================================================================

// scan 逐行讀取並驗證記錄
//
// 回傳最後一筆有效事件的 seq，以及最後一個完整行結束的位置。
// 沒有換行結尾的最後一行視為崩潰殘留，直接忽略。
func scan(r io.Reader, handler EventHandler) (uint64, int64, error) {
	reader := bufio.NewReader(r)
	var (
		lastSeq uint64
		offset  int64
	)

	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// 沒有換行的殘缺尾巴
			return lastSeq, offset, nil
		}
		if err != nil {
			return lastSeq, offset, err
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			offset += int64(len(line))
			continue
		}

		var event Event
		if err := json.Unmarshal(trimmed, &event); err != nil {
			return lastSeq, offset, &CorruptionError{Seq: lastSeq, Offset: offset, Cause: err}
		}
		if err := VerifyChecksum(event); err != nil {
			return lastSeq, offset, err
		}
		if event.Seq <= lastSeq {
			return lastSeq, offset, &CorruptionError{
				Seq:    lastSeq,
				Offset: offset,
				Cause:  fmt.Errorf("%w: seq %d after %d", ErrSeqOutOfOrder, event.Seq, lastSeq),
			}
		}

		if handler != nil {
			if err := handler(event); err != nil {
				return lastSeq, offset, fmt.Errorf("wal: apply seq=%d: %w", event.Seq, err)
			}
		}
		lastSeq = event.Seq
		offset += int64(len(line))
	}
}

// compressFile 以 gzip 壓縮來源檔
func compressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
