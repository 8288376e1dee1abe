package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// workshopInput 產生 projects 個專案、每個 parts 個零件的隨機車間資料
func workshopInput(seed uint64, projects, parts int) types.PlanInput {
	f := gofakeit.New(seed)
	processTypes := []string{types.ProcessLathe, types.ProcessMill, "钻床", "钳工", "热处理", "磨床"}

	input := types.PlanInput{
		Resources: []types.Resource{
			{ID: "L", Type: types.ProcessLathe, Name: "数控车床", Count: 3},
			{ID: "M", Type: types.ProcessMill, Name: "立式铣床", Count: 2},
			{ID: "D", Type: "钻床", Name: "摇臂钻床", Count: 1},
			{ID: "F", Type: "钳工", Name: "钳工台", Count: 2},
		},
	}
	for p := 0; p < projects; p++ {
		project := types.Project{
			ID:       fmt.Sprintf("P%03d", p),
			Name:     f.Company(),
			Deadline: types.NewDate(2025, time.Month(f.IntRange(1, 12)), f.IntRange(1, 28)),
		}
		for k := 0; k < parts; k++ {
			part := types.Part{ID: fmt.Sprintf("P%03d-%02d", p, k), Name: f.Noun()}
			steps := f.IntRange(1, 6)
			for s := 1; s <= steps; s++ {
				part.Steps = append(part.Steps, types.ManufacturingStep{
					Order:          s,
					ProcessType:    processTypes[f.IntRange(0, len(processTypes)-1)],
					EstimatedHours: float64(f.IntRange(1, 16)) / 2,
				})
			}
			project.Parts = append(project.Parts, part)
		}
		input.Projects = append(input.Projects, project)
	}
	return input
}

func BenchmarkPlan(b *testing.B) {
	input := workshopInput(42, 50, 20)

	p, err := New(Config{})
	require.NoError(b, err)
	require.NoError(b, p.Start(context.Background()))
	defer p.Stop(context.Background())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := p.Plan(context.Background(), input)
		require.NoError(b, err)
	}
}

func BenchmarkToggle(b *testing.B) {
	for _, sync := range []bool{false, true} {
		b.Run(fmt.Sprintf("sync=%t", sync), func(b *testing.B) {
			dir := b.TempDir()
			p, err := New(Config{
				WALPath:      filepath.Join(dir, "ledger.wal"),
				SnapshotPath: filepath.Join(dir, "ledger.snapshot.json"),
				SyncWAL:      sync,
			})
			require.NoError(b, err)
			require.NoError(b, p.Start(context.Background()))
			defer p.Stop(context.Background())

			report, err := p.Plan(context.Background(), workshopInput(7, 10, 10))
			require.NoError(b, err)
			tasks := report.Result.Tasks

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, err := p.Toggle(context.Background(), tasks[i%len(tasks)].TaskID)
				require.NoError(b, err)
			}
		})
	}
}

// BenchmarkRecovery 重放 WAL 的恢復時間
func BenchmarkRecovery(b *testing.B) {
	dir := b.TempDir()
	cfg := Config{
		WALPath:      filepath.Join(dir, "ledger.wal"),
		SnapshotPath: filepath.Join(dir, "ledger.snapshot.json"),
	}

	seed, err := New(cfg)
	require.NoError(b, err)
	require.NoError(b, seed.Start(context.Background()))
	report, err := seed.Plan(context.Background(), workshopInput(3, 20, 10))
	require.NoError(b, err)
	for i := 0; i < 1000; i++ {
		_, err := seed.Toggle(context.Background(), report.Result.Tasks[i%len(report.Result.Tasks)].TaskID)
		require.NoError(b, err)
	}
	// 不呼叫 Stop，保留未快照的 WAL
	require.NoError(b, seed.wal.Close())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p, err := New(cfg)
		require.NoError(b, err)
		require.NoError(b, p.Start(context.Background()))
		b.StopTimer()
		require.NoError(b, p.wal.Close())
		b.StartTimer()
	}
}
