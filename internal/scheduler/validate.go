package scheduler

import (
	"fmt"
	"math"
	"strings"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// Validate 檢查排產輸入，所有問題一次回報
//
// 檢查項目：
//   - 資源：id、type 不可為空，count 必須為正整數，id 不可重複
//   - 專案、零件：id 不可為空；專案 id 與零件 id 在整批輸入中唯一
//   - 工序：order >= 1 且零件內不重複、processType 不可為空、
//     estimatedHours 必須為有限正數
//
// 返回值：
//   - error: 無問題時為 nil，否則為 *ValidationError
func Validate(projects []types.Project, resources []types.Resource) error {
	var issues []Issue

	resourceIDs := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		if strings.TrimSpace(r.ID) == "" {
			issues = append(issues, Issue{Field: "resource.id", Reason: "is required"})
		} else if _, dup := resourceIDs[r.ID]; dup {
			issues = append(issues, Issue{ResourceID: r.ID, Field: "id", Reason: "is duplicated"})
		} else {
			resourceIDs[r.ID] = struct{}{}
		}
		if strings.TrimSpace(r.Type) == "" {
			issues = append(issues, Issue{ResourceID: r.ID, Field: "type", Reason: "is required"})
		}
		if r.Count < 1 {
			issues = append(issues, Issue{ResourceID: r.ID, Field: "count", Reason: fmt.Sprintf("must be positive (got %d)", r.Count)})
		}
	}

	projectIDs := make(map[string]struct{}, len(projects))
	partIDs := make(map[string]struct{})
	for _, project := range projects {
		if strings.TrimSpace(project.ID) == "" {
			issues = append(issues, Issue{Field: "project.id", Reason: "is required"})
		} else if _, dup := projectIDs[project.ID]; dup {
			issues = append(issues, Issue{ProjectID: project.ID, Field: "id", Reason: "is duplicated"})
		} else {
			projectIDs[project.ID] = struct{}{}
		}

		for _, part := range project.Parts {
			if strings.TrimSpace(part.ID) == "" {
				issues = append(issues, Issue{ProjectID: project.ID, Field: "part.id", Reason: "is required"})
			} else if _, dup := partIDs[part.ID]; dup {
				issues = append(issues, Issue{ProjectID: project.ID, PartID: part.ID, Field: "id", Reason: "is duplicated"})
			} else {
				partIDs[part.ID] = struct{}{}
			}

			issues = append(issues, validateSteps(project.ID, part)...)
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateSteps(projectID string, part types.Part) []Issue {
	var issues []Issue
	orders := make(map[int]struct{}, len(part.Steps))

	for _, step := range part.Steps {
		at := Issue{ProjectID: projectID, PartID: part.ID, StepOrder: step.Order}

		if step.Order < 1 {
			at.Field, at.Reason = "order", fmt.Sprintf("must be >= 1 (got %d)", step.Order)
			issues = append(issues, at)
		} else if _, dup := orders[step.Order]; dup {
			at.Field, at.Reason = "order", "is duplicated within the part"
			issues = append(issues, at)
		} else {
			orders[step.Order] = struct{}{}
		}

		if strings.TrimSpace(step.ProcessType) == "" {
			at.Field, at.Reason = "processType", "is required"
			issues = append(issues, at)
		}

		h := step.EstimatedHours
		if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
			at.Field, at.Reason = "estimatedHours", fmt.Sprintf("must be a positive number (got %v)", h)
			issues = append(issues, at)
		}
	}
	return issues
}
