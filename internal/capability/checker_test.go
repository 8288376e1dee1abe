package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

func step(processType string) types.ManufacturingStep {
	return types.ManufacturingStep{ProcessType: processType, EstimatedHours: 1}
}

func TestCheck_MissingProcessType(t *testing.T) {
	warnings := Check([]types.ManufacturingStep{step("Grinder")}, NewTypeSet("Lathe"))
	assert.Equal(t, []string{"Grinder"}, warnings)
}

func TestCheck_GenericProcessNeverWarns(t *testing.T) {
	assert.Empty(t, Check([]types.ManufacturingStep{step("Other")}, NewTypeSet()))
	assert.Empty(t, Check([]types.ManufacturingStep{step(types.ProcessOther)}, NewTypeSet()))
}

func TestCheck_EmptyInput(t *testing.T) {
	warnings := Check(nil, NewTypeSet("Lathe"))
	require.NotNil(t, warnings, "empty input should yield an empty, non-nil set")
	assert.Empty(t, warnings)
}

func TestCheck_OrderPreservedAndDeduplicated(t *testing.T) {
	steps := []types.ManufacturingStep{
		step("热处理"),
		step(types.ProcessLathe),
		step("磨床"),
		step("热处理"),
		step("磨床"),
		step("Other"),
	}

	warnings := Check(steps, NewTypeSet(types.ProcessLathe, types.ProcessMill))
	assert.Equal(t, []string{"热处理", "磨床"}, warnings)
}

func TestCheck_DoesNotMutateSteps(t *testing.T) {
	steps := []types.ManufacturingStep{step("Grinder"), step("Lathe")}
	before := append([]types.ManufacturingStep(nil), steps...)

	_ = Check(steps, NewTypeSet("Lathe"))
	assert.Equal(t, before, steps)
}

func TestAvailableTypes(t *testing.T) {
	resources := []types.Resource{
		{ID: "1", Type: types.ProcessLathe, Name: "数控车床", Count: 2},
		{ID: "2", Type: types.ProcessMill, Name: "立式铣床", Count: 1},
		{ID: "3", Type: types.ProcessLathe, Name: "普通车床", Count: 1},
	}

	set := AvailableTypes(resources)
	assert.True(t, set.Has(types.ProcessLathe))
	assert.True(t, set.Has(types.ProcessMill))
	assert.False(t, set.Has(types.ProcessWelder))
	assert.Len(t, set.Sorted(), 2)
}

func TestAnnotate(t *testing.T) {
	resources := []types.Resource{{ID: "1", Type: "Lathe", Name: "Lathe", Count: 1}}
	projects := []types.Project{{
		ID:   "p1",
		Name: "Pump",
		Parts: []types.Part{
			{ID: "a", Name: "Shaft", Steps: []types.ManufacturingStep{step("Lathe"), step("Grinder")}},
			{ID: "b", Name: "Flange", Steps: []types.ManufacturingStep{step("Lathe")}},
		},
	}}

	annotated := Annotate(projects, resources)

	require.Len(t, annotated, 1)
	assert.Equal(t, []string{"Grinder"}, annotated[0].Parts[0].Warnings)
	assert.Empty(t, annotated[0].Parts[1].Warnings)

	// 原始快照不應被修改
	assert.Nil(t, projects[0].Parts[0].Warnings)

	report := Report(annotated)
	require.Len(t, report, 1)
	assert.Equal(t, "a", report[0].PartID)
	assert.Equal(t, "Grinder", Summary(report))
}

func TestAnnotate_ReplacesStaleWarnings(t *testing.T) {
	resources := []types.Resource{{ID: "1", Type: "Grinder", Name: "Grinder", Count: 1}}
	projects := []types.Project{{
		ID: "p1",
		Parts: []types.Part{
			{ID: "a", Steps: []types.ManufacturingStep{step("Grinder")}, Warnings: []string{"Grinder"}},
		},
	}}

	annotated := Annotate(projects, resources)
	assert.Empty(t, annotated[0].Parts[0].Warnings)
}
