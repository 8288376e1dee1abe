package wal

// ============================================================================
// WAL 工具函式
// 職責：離線檢查 WAL 檔案（status 指令與測試使用）
// ============================================================================

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ReadAll 讀取 WAL 檔案中的全部事件
//
// 副檔名為 .gz 時視為旋轉後的封存檔。
func ReadAll(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedWAL, err)
		}
		defer gz.Close()
		r = gz
	}

	var events []Event
	_, _, err = scan(r, func(event Event) error {
		events = append(events, event)
		return nil
	})
	return events, err
}

// GetLastEvent 讀取最後一個事件，檔案為空時回傳 nil
func GetLastEvent(path string) (*Event, error) {
	events, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	last := events[len(events)-1]
	return &last, nil
}

// CountEvents 計算 WAL 中的事件總數
func CountEvents(path string) (int, error) {
	events, err := ReadAll(path)
	return len(events), err
}

// ValidateWAL 驗證 WAL 檔案的完整性
//
// 檢查項目：JSON 格式、校驗和、seq 連續
func ValidateWAL(path string) error {
	events, err := ReadAll(path)
	if err != nil {
		return err
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			return fmt.Errorf("%w: seq %d followed by %d", ErrSeqGap, events[i-1].Seq, events[i].Seq)
		}
	}
	return nil
}

// GetStats 取得 WAL 的統計資訊
func GetStats(path string) (*Stats, error) {
	events, err := ReadAll(path)
	if err != nil {
		return nil, err
	}

	stats := &Stats{EventTypes: make(map[EventType]int)}
	for i, event := range events {
		stats.TotalEvents++
		stats.EventTypes[event.Type]++
		if i == 0 {
			stats.FirstSeq = event.Seq
			stats.TimeRange[0] = event.Timestamp
		}
		stats.LastSeq = event.Seq
		stats.TimeRange[1] = event.Timestamp
	}
	return stats, nil
}

// DumpWAL 輸出 WAL 內容（人類可讀格式）
//
//	[Seq:1] REPLACE rev=1 tasks=3 at 2025-03-01T08:00:00Z (checksum:0x12345678)
//	[Seq:2] TOGGLE 5f0c... completed=true at 2025-03-01T08:05:00Z (checksum:0x87654321)
func DumpWAL(path string, w io.Writer) error {
	events, err := ReadAll(path)
	if err != nil {
		return err
	}
	for _, event := range events {
		at := time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339)
		var detail string
		switch event.Type {
		case EventReplace:
			tasks := 0
			if event.Result != nil {
				tasks = len(event.Result.Tasks)
			}
			detail = fmt.Sprintf("rev=%d tasks=%d", event.Revision, tasks)
		case EventToggle:
			detail = fmt.Sprintf("%s completed=%t", event.TaskID, event.Completed)
		}
		if _, err := fmt.Fprintf(w, "[Seq:%d] %s %s at %s (checksum:0x%08x)\n",
			event.Seq, event.Type, detail, at, event.Checksum); err != nil {
			return err
		}
	}
	return nil
}
