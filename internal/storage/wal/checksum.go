package wal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 WAL 事件的 CRC32 校驗和
// ============================================================================

import (
	"encoding/json"
	"hash/crc32"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 範圍是整筆記錄（Checksum 欄位歸零後的 JSON 編碼），
// 因此 REPLACE 事件內的排產結果也受到保護。
func CalculateChecksum(event Event) (uint32, error) {
	event.Checksum = 0
	raw, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(raw), nil
}

// VerifyChecksum 驗證事件的校驗和，不符時回傳 *ChecksumError
func VerifyChecksum(event Event) error {
	actual, err := CalculateChecksum(event)
	if err != nil {
		return err
	}
	if actual != event.Checksum {
		return &ChecksumError{Seq: event.Seq, Expected: event.Checksum, Actual: actual}
	}
	return nil
}
