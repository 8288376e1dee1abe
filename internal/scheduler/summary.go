package scheduler

import (
	"github.com/ChuLiYu/mechflow/pkg/types"
)

// ProjectSummary 專案在排產結果中的完工情況
//
// FinishHour 為該專案最後一道工序的結束時間；排產器不強制交期，
// 呼叫端以此判斷是否有延誤風險。
type ProjectSummary struct {
	ProjectID   string     `json:"projectId"`
	ProjectName string     `json:"projectName"`
	Deadline    types.Date `json:"deadline"`
	Tasks       int        `json:"tasks"`
	Outsourced  int        `json:"outsourced"`
	FinishHour  float64    `json:"finishHour"`
}

// Summarize 依專案輸入順序彙整排產結果
func Summarize(projects []types.Project, result *types.ScheduleResult) []ProjectSummary {
	index := make(map[string]int, len(projects))
	out := make([]ProjectSummary, len(projects))
	for i, p := range projects {
		index[p.ID] = i
		out[i] = ProjectSummary{ProjectID: p.ID, ProjectName: p.Name, Deadline: p.Deadline}
	}
	if result == nil {
		return out
	}

	for _, task := range result.Tasks {
		i, ok := index[task.ProjectID]
		if !ok {
			continue
		}
		out[i].Tasks++
		if task.IsOutsourced() {
			out[i].Outsourced++
		}
		out[i].FinishHour = max(out[i].FinishHour, task.EndTime())
	}
	return out
}
