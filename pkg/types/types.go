// Package types 定義了 MechFlow 排產系統中使用的核心領域模型
package types

import (
	"slices"
	"time"
)

// ============================================================================
// 工藝類型
// ============================================================================

// 工廠常見的工藝類型（資源的 Type 欄位為自由字串，這裡只是預設目錄）
const (
	ProcessLathe   = "车床"
	ProcessMill    = "铣床"
	ProcessPlaner  = "刨床"
	ProcessDrill   = "钻床"
	ProcessWelder  = "焊工"
	ProcessFitter  = "钳工"
	ProcessSawing  = "锯床"
	ProcessTapping = "攻丝机"
	ProcessOther   = "其他"

	// ProcessOtherAlias 英文版的通用工藝標記
	ProcessOtherAlias = "Other"
)

// ProcessCatalog 回傳預設工藝目錄（依原始工廠設定順序）
func ProcessCatalog() []string {
	return []string{
		ProcessLathe, ProcessMill, ProcessPlaner, ProcessDrill, ProcessWelder,
		ProcessFitter, ProcessSawing, ProcessTapping, ProcessOther,
	}
}

// IsGenericProcess 判斷是否為通用（未分類）工藝，通用工藝永遠視為可行
//
// 通用工藝不產生產能警告；但廠內沒有同類型資源時，排產仍會把它外發。
func IsGenericProcess(processType string) bool {
	return processType == ProcessOther || processType == ProcessOtherAlias
}

// ============================================================================
// 外發資源
// ============================================================================

const (
	// OutsourceResourceID 外發虛擬資源的識別碼，容量無限
	OutsourceResourceID = "OUTSOURCE"
	// OutsourceNamePrefix 外發任務的資源名稱前綴
	OutsourceNamePrefix = "外发-"
)

// OutsourceName 產生外發任務的資源名稱，例如 "外发-热处理"
func OutsourceName(processType string) string {
	return OutsourceNamePrefix + processType
}

// ============================================================================
// 資源與專案
// ============================================================================

// Resource 代表一種資源類型，Count 為可並行的實例數量
type Resource struct {
	ID    string `json:"id" yaml:"id"`
	Type  string `json:"type" yaml:"type"`   // 工藝類型，例如 "车床"
	Name  string `json:"name" yaml:"name"`   // 顯示名稱，例如 "数控车床 A组"
	Count int    `json:"count" yaml:"count"` // 並行實例數（正整數）
}

// ManufacturingStep 零件的一道工序
type ManufacturingStep struct {
	StepID         string  `json:"stepId" yaml:"stepId"`
	Order          int     `json:"order" yaml:"order"` // 從 1 開始，零件內嚴格遞增
	Description    string  `json:"description" yaml:"description"`
	ProcessType    string  `json:"processType" yaml:"processType"`
	EstimatedHours float64 `json:"estimatedHours" yaml:"estimatedHours"`
}

// AnalysisStatus 圖紙分析狀態
type AnalysisStatus string

// 定義分析狀態常數
const (
	AnalysisPending   AnalysisStatus = "pending"   // 已上傳，等待分析
	AnalysisAnalyzing AnalysisStatus = "analyzing" // 分析中
	AnalysisDone      AnalysisStatus = "done"      // 分析完成，可排產
	AnalysisError     AnalysisStatus = "error"     // 分析失敗
)

// Part 零件，Steps 的順序即為工序先後順序
type Part struct {
	ID             string              `json:"id" yaml:"id"`
	ProjectID      string              `json:"projectId" yaml:"projectId"`
	Name           string              `json:"name" yaml:"name"`
	Steps          []ManufacturingStep `json:"steps" yaml:"steps"`
	Warnings       []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"` // 產能警告，只由能力檢查寫入
	AnalysisStatus AnalysisStatus      `json:"analysisStatus,omitempty" yaml:"analysisStatus,omitempty"`
}

// Schedulable 判斷零件是否可進入排產（未設定狀態視為已完成分析）
func (p Part) Schedulable() bool {
	return p.AnalysisStatus == "" || p.AnalysisStatus == AnalysisDone
}

// HasWarning 檢查零件是否帶有指定工藝的產能警告
func (p Part) HasWarning(processType string) bool {
	return slices.Contains(p.Warnings, processType)
}

// Project 專案，Deadline 決定排產優先順序
type Project struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Deadline Date   `json:"deadline" yaml:"deadline"`
	Color    string `json:"color,omitempty" yaml:"color,omitempty"`
	Parts    []Part `json:"parts" yaml:"parts"`
}

// ============================================================================
// 排產結果
// ============================================================================

// ScheduleTask 排產產生的單一任務
//
// StartTime、Duration、ResourceID 在排產後不可變；
// 之後只有 Completed 與 CompletedAt 會被任務台帳修改。
type ScheduleTask struct {
	TaskID       string     `json:"taskId" yaml:"taskId"`
	PartID       string     `json:"partId" yaml:"partId"`
	PartName     string     `json:"partName" yaml:"partName"`
	ProjectID    string     `json:"projectId" yaml:"projectId"`
	ProjectName  string     `json:"projectName" yaml:"projectName"`
	ResourceID   string     `json:"resourceId" yaml:"resourceId"`
	ResourceName string     `json:"resourceName" yaml:"resourceName"`
	StartTime    float64    `json:"startTime" yaml:"startTime"` // 從 T=0 起算的小時數
	Duration     float64    `json:"duration" yaml:"duration"`   // 小時
	Description  string     `json:"description" yaml:"description"`
	Completed    bool       `json:"completed,omitempty" yaml:"completed,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// EndTime 任務結束時間（小時）
func (t ScheduleTask) EndTime() float64 {
	return t.StartTime + t.Duration
}

// IsOutsourced 是否為外發任務
func (t ScheduleTask) IsOutsourced() bool {
	return t.ResourceID == OutsourceResourceID
}

// ScheduleResult 一次排產的完整結果，重新排產會整體取代
type ScheduleResult struct {
	TotalDuration float64        `json:"totalDuration" yaml:"totalDuration"`
	Explanation   string         `json:"explanation" yaml:"explanation"`
	Tasks         []ScheduleTask `json:"tasks" yaml:"tasks"`
}

// Clone 深拷貝排產結果（包含 CompletedAt 指標）
func (r *ScheduleResult) Clone() *ScheduleResult {
	if r == nil {
		return nil
	}
	out := &ScheduleResult{
		TotalDuration: r.TotalDuration,
		Explanation:   r.Explanation,
		Tasks:         CloneTasks(r.Tasks),
	}
	return out
}

// CloneTasks 深拷貝任務列表
func CloneTasks(tasks []ScheduleTask) []ScheduleTask {
	if tasks == nil {
		return nil
	}
	out := make([]ScheduleTask, len(tasks))
	copy(out, tasks)
	for i := range out {
		if out[i].CompletedAt != nil {
			at := *out[i].CompletedAt
			out[i].CompletedAt = &at
		}
	}
	return out
}

// PartTasks 單一零件的任務（依開始時間排序）
type PartTasks struct {
	PartID   string
	PartName string
	Tasks    []ScheduleTask
}

// ProjectTasks 單一專案的任務分組
type ProjectTasks struct {
	ProjectID   string
	ProjectName string
	Parts       []PartTasks
}

// ByProject 將任務依 專案 → 零件 分組，保持任務首次出現的順序
func (r *ScheduleResult) ByProject() []ProjectTasks {
	if r == nil {
		return nil
	}

	var groups []ProjectTasks
	projectIdx := make(map[string]int)
	partIdx := make(map[string]map[string]int)

	for _, task := range r.Tasks {
		pi, ok := projectIdx[task.ProjectID]
		if !ok {
			pi = len(groups)
			projectIdx[task.ProjectID] = pi
			partIdx[task.ProjectID] = make(map[string]int)
			groups = append(groups, ProjectTasks{ProjectID: task.ProjectID, ProjectName: task.ProjectName})
		}

		parts := partIdx[task.ProjectID]
		ki, ok := parts[task.PartID]
		if !ok {
			ki = len(groups[pi].Parts)
			parts[task.PartID] = ki
			groups[pi].Parts = append(groups[pi].Parts, PartTasks{PartID: task.PartID, PartName: task.PartName})
		}
		groups[pi].Parts[ki].Tasks = append(groups[pi].Parts[ki].Tasks, task)
	}

	for pi := range groups {
		for ki := range groups[pi].Parts {
			slices.SortStableFunc(groups[pi].Parts[ki].Tasks, func(a, b ScheduleTask) int {
				switch {
				case a.StartTime < b.StartTime:
					return -1
				case a.StartTime > b.StartTime:
					return 1
				}
				return 0
			})
		}
	}
	return groups
}

// ============================================================================
// 輸入
// ============================================================================

// PlanInput 一次排產的輸入快照（設定層提供）
type PlanInput struct {
	Resources []Resource `json:"resources" yaml:"resources"`
	Projects  []Project  `json:"projects" yaml:"projects"`
}

// ============================================================================
// 快照
// ============================================================================

// LedgerSnapshot 任務台帳的快照資料，用於持久化與恢復
type LedgerSnapshot struct {
	Result    *ScheduleResult `json:"result,omitempty"` // 目前的排產結果（含完成狀態）
	Revision  uint64          `json:"revision"`         // 排產版本號，每次重新排產遞增
	SchemaVer int             `json:"schema_ver"`       // 資料結構版本號，用於向後相容性
	LastSeq   uint64          `json:"last_seq"`         // 最後處理的 WAL 序列號
}
