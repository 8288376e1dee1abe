package analysis

// ============================================================================
// 分析結果進件
// 職責：把不可信的分析結果轉成 types.Part
//   - 字串去空白，空零件名稱改為「未知零件」
//   - 工序依回傳順序編號 order = idx+1，配發 stepId
//   - 以產能檢查寫入 warnings
// 工時與工藝類型不在此修正，由排產前的驗證統一拒絕。
// ============================================================================

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ChuLiYu/mechflow/internal/capability"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

// UnknownPartName 分析結果沒有零件名稱時使用
const UnknownPartName = "未知零件"

var (
	// ErrAnalysisFailed 分析服務失敗
	ErrAnalysisFailed = errors.New("drawing analysis failed")
)

// newStepID 可在測試中替換
var newStepID = uuid.NewString

// Intake 把分析結果轉成零件
func Intake(projectID, partID string, a Analysis, resources []types.Resource) types.Part {
	name := strings.TrimSpace(a.PartName)
	if name == "" {
		name = UnknownPartName
	}

	steps := make([]types.ManufacturingStep, 0, len(a.Steps))
	for i, s := range a.Steps {
		steps = append(steps, types.ManufacturingStep{
			StepID:         newStepID(),
			Order:          i + 1,
			Description:    strings.TrimSpace(s.Description),
			ProcessType:    strings.TrimSpace(s.ProcessType),
			EstimatedHours: float64(s.EstimatedHours),
		})
	}

	available := capability.AvailableTypes(resources)
	return types.Part{
		ID:             partID,
		ProjectID:      projectID,
		Name:           name,
		Steps:          steps,
		Warnings:       capability.Check(steps, available),
		AnalysisStatus: types.AnalysisDone,
	}
}

// Failed 分析失敗的零件：沒有工序，狀態為 error，不會被排產
func Failed(drawing Drawing) types.Part {
	return types.Part{
		ID:             drawing.PartID,
		ProjectID:      drawing.ProjectID,
		Name:           UnknownPartName,
		Steps:          []types.ManufacturingStep{},
		AnalysisStatus: types.AnalysisError,
	}
}

// Attach 把分析完成的零件放回所屬專案
//
// 已存在相同 ID 的零件會被取代，否則附加在專案最後；
// 找不到專案的零件回傳在 orphans。
func Attach(projects []types.Project, parts []types.Part) ([]types.Project, []types.Part) {
	out := make([]types.Project, len(projects))
	index := make(map[string]int, len(projects))
	for i, p := range projects {
		p.Parts = append([]types.Part(nil), p.Parts...)
		out[i] = p
		index[p.ID] = i
	}

	var orphans []types.Part
	for _, part := range parts {
		i, ok := index[part.ProjectID]
		if !ok {
			orphans = append(orphans, part)
			continue
		}
		replaced := false
		for j := range out[i].Parts {
			if out[i].Parts[j].ID == part.ID {
				out[i].Parts[j] = part
				replaced = true
				break
			}
		}
		if !replaced {
			out[i].Parts = append(out[i].Parts, part)
		}
	}
	return out, orphans
}

// Schedulable 只保留可排產（分析完成或未標記狀態）的零件
func Schedulable(projects []types.Project) []types.Project {
	out := make([]types.Project, 0, len(projects))
	for _, p := range projects {
		kept := make([]types.Part, 0, len(p.Parts))
		for _, part := range p.Parts {
			if part.Schedulable() {
				kept = append(kept, part)
			}
		}
		p.Parts = kept
		out = append(out, p)
	}
	return out
}

// CanGenerate 至少要有一項資源和一個可排產的零件才值得排產
func CanGenerate(projects []types.Project, resources []types.Resource) bool {
	if len(resources) == 0 {
		return false
	}
	for _, p := range projects {
		for _, part := range p.Parts {
			if part.Schedulable() {
				return true
			}
		}
	}
	return false
}
