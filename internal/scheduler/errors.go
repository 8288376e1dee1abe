package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrValidation 輸入資料不合法，整次排產中止，不回傳任何部分結果
	ErrValidation = errors.New("schedule input is invalid")
	// ErrCanceled 呼叫端中止排產；不是錯誤結果，只是沒有結果
	ErrCanceled = errors.New("scheduling canceled")
)

// Issue 單一驗證問題，定位到資源、專案、零件或工序
type Issue struct {
	ResourceID string `json:"resourceId,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
	PartID     string `json:"partId,omitempty"`
	StepOrder  int    `json:"stepOrder,omitempty"`
	Field      string `json:"field"`
	Reason     string `json:"reason"`
}

func (i Issue) String() string {
	var where []string
	if i.ResourceID != "" {
		where = append(where, "resource "+i.ResourceID)
	}
	if i.ProjectID != "" {
		where = append(where, "project "+i.ProjectID)
	}
	if i.PartID != "" {
		where = append(where, "part "+i.PartID)
	}
	if i.StepOrder != 0 {
		where = append(where, fmt.Sprintf("step #%d", i.StepOrder))
	}
	if len(where) == 0 {
		return fmt.Sprintf("%s: %s", i.Field, i.Reason)
	}
	return fmt.Sprintf("%s: %s %s", strings.Join(where, " "), i.Field, i.Reason)
}

// ValidationError 收集所有驗證問題
//
// errors.Is(err, ErrValidation) 為 true。
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Issues[0])
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}
	return fmt.Sprintf("%s: %d issues: %s", ErrValidation, len(e.Issues), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
