// ============================================================================
// MechFlow 產能檢查 - 排產前的工藝能力比對
// ============================================================================
//
// Package: internal/capability
// 文件: checker.go
// 功能: 找出工廠沒有對應資源的工序工藝類型（產能缺口）
//
// 規則:
//   - 工序的 ProcessType 不在可用資源類型中 → 產生警告
//   - 通用工藝（"其他" / "Other"）永遠不產生警告
//   - 警告保持首次出現順序，不重複
//
// 產能缺口不是錯誤：排產時這些工序會被安排為外發。
// 本套件為純函式，不修改輸入，不記錄日誌。
//
// ============================================================================

package capability

import (
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// TypeSet 工廠可用的工藝類型集合
type TypeSet map[string]struct{}

// NewTypeSet 由工藝類型字串建立集合
func NewTypeSet(processTypes ...string) TypeSet {
	set := make(TypeSet, len(processTypes))
	for _, pt := range processTypes {
		set[pt] = struct{}{}
	}
	return set
}

// AvailableTypes 由資源列表取得可用工藝類型
func AvailableTypes(resources []types.Resource) TypeSet {
	return NewTypeSet(lo.Map(resources, func(r types.Resource, _ int) string {
		return r.Type
	})...)
}

// Has 是否包含指定工藝類型
func (s TypeSet) Has(processType string) bool {
	_, ok := s[processType]
	return ok
}

// Sorted 回傳排序後的類型列表（用於輸出與分析提示）
func (s TypeSet) Sorted() []string {
	keys := lo.Keys(s)
	slices.Sort(keys)
	return keys
}

// Check 檢查工序列表，回傳產能缺口的工藝類型
//
// 參數：
//   - steps: 零件的工序
//   - available: 工廠可用的工藝類型
//
// 返回值：
//   - []string: 缺口工藝類型，保持首次出現順序；沒有缺口時回傳空切片
//
// 使用範例：
//
//	warnings := capability.Check(part.Steps, capability.NewTypeSet("车床"))
func Check(steps []types.ManufacturingStep, available TypeSet) []string {
	missing := lo.FilterMap(steps, func(step types.ManufacturingStep, _ int) (string, bool) {
		if types.IsGenericProcess(step.ProcessType) || available.Has(step.ProcessType) {
			return "", false
		}
		return step.ProcessType, true
	})
	return lo.Uniq(missing)
}

// AnnotatePart 為零件寫入產能警告，回傳新的零件（不修改原始 Steps）
func AnnotatePart(part types.Part, available TypeSet) types.Part {
	out := part
	out.Steps = append([]types.ManufacturingStep(nil), part.Steps...)
	out.Warnings = Check(part.Steps, available)
	return out
}

// Annotate 對所有專案的零件執行產能檢查，回傳新的專案快照
func Annotate(projects []types.Project, resources []types.Resource) []types.Project {
	available := AvailableTypes(resources)

	out := make([]types.Project, len(projects))
	for i, project := range projects {
		out[i] = project
		out[i].Parts = lo.Map(project.Parts, func(part types.Part, _ int) types.Part {
			return AnnotatePart(part, available)
		})
	}
	return out
}

// PartWarnings 單一零件的警告摘要
type PartWarnings struct {
	ProjectID string   `json:"projectId"`
	PartID    string   `json:"partId"`
	PartName  string   `json:"partName"`
	Warnings  []string `json:"warnings"`
}

// Report 列出所有帶有警告的零件（專案與零件依輸入順序）
func Report(projects []types.Project) []PartWarnings {
	var report []PartWarnings
	for _, project := range projects {
		for _, part := range project.Parts {
			if len(part.Warnings) == 0 {
				continue
			}
			report = append(report, PartWarnings{
				ProjectID: project.ID,
				PartID:    part.ID,
				PartName:  part.Name,
				Warnings:  append([]string(nil), part.Warnings...),
			})
		}
	}
	return report
}

// Summary 將警告合併成一行文字，例如 "磨床, 热处理"
func Summary(report []PartWarnings) string {
	all := lo.Uniq(lo.FlatMap(report, func(pw PartWarnings, _ int) []string {
		return pw.Warnings
	}))
	return strings.Join(all, ", ")
}
