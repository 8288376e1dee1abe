// ============================================================================
// MechFlow CLI - 命令列介面
// ============================================================================
//
// Package: internal/cli
// 文件: cli.go
// 功能: 基於 Cobra 的命令列入口
//
// 命令結構:
//   mechflow                       # 根命令
//   ├── plan    -f plan.yaml       # 產能檢查 + 排產，寫入任務台帳
//   │   ├── --output, -o          # 另存排產結果 JSON
//   │   ├── --format              # table | json
//   │   └── --dry-run             # 只預覽，不寫入台帳
//   ├── check   -f plan.yaml       # 列出每個零件的產能缺口
//   ├── analyze -f drawings.yaml   # 讀取圖紙分析結果，輸出可排產的 plan
//   ├── toggle  <taskId>           # 翻轉任務完成狀態
//   ├── status                     # 設定與台帳統計
//   ├── serve                      # HTTP + gRPC + metrics
//   └── --config, -c               # 設定檔（預設 configs/default.yaml）
//
// 輸入檔:
//   plan.yaml 為 {resources, projects}，副檔名 .json 時以 JSON 解析。
//
// 台帳:
//   plan / toggle / status 共用設定中的 WAL 與快照路徑，
//   因此多次執行之間任務完成狀態會被保留。
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/mechflow/internal/config"
	"github.com/ChuLiYu/mechflow/internal/logger"
	"github.com/ChuLiYu/mechflow/internal/planner"
	"github.com/ChuLiYu/mechflow/internal/render"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

// Version 由建置時的 -ldflags 覆寫
var Version = "0.1.0"

const (
	formatTable = "table"
	formatJSON  = "json"
)

// app 所有子命令共用的狀態
type app struct {
	configPath string
	cfg        *config.Config
}

// BuildCLI 建立根命令
func BuildCLI() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "mechflow",
		Short: "MechFlow: 机加工车间排产工具",
		Long: `MechFlow 将项目、零件工序与车间资源排成一份可执行的生产计划：
- 产能检查：标出厂内没有的工艺，自动外发
- 交期优先的确定性排产
- 任务台账：WAL + 快照，重启后完成状态不丢失
- HTTP / gRPC 服务与 Prometheus 指标`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "config file path")

	rootCmd.AddCommand(
		buildPlanCommand(a),
		buildCheckCommand(a),
		buildAnalyzeCommand(a),
		buildToggleCommand(a),
		buildStatusCommand(a),
		buildServeCommand(a),
	)
	return rootCmd
}

// load 載入設定並初始化 logger
//
// 預設設定檔不存在時使用內建預設值；明確指定的檔案不存在則報錯。
func (a *app) load() error {
	path := a.configPath
	if path == config.DefaultPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Logger.Level, cfg.Logger.AsJSON); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	a.cfg = cfg
	return nil
}

// plannerConfig 設定檔的 ledger 區段轉為 Planner 配置
func (a *app) plannerConfig() planner.Config {
	l := a.cfg.Ledger
	return planner.Config{
		WALPath:          l.WALPath,
		SnapshotPath:     l.SnapshotPath,
		SnapshotInterval: l.SnapshotInterval,
		SnapshotBackups:  l.SnapshotBackups,
		SyncWAL:          l.SyncWAL,
		ArchiveWAL:       l.ArchiveWAL,
	}
}

// withPlanner 啟動 Planner（恢復台帳），執行 fn 後停止並寫入快照
//
// 命令列是一次性執行，不需要定期快照。
func (a *app) withPlanner(ctx context.Context, fn func(*planner.Planner) error) (err error) {
	cfg := a.plannerConfig()
	cfg.SnapshotInterval = 0

	p, err := planner.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := p.Stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start planner: %w", err)
	}
	return fn(p)
}

// ============================================================================
// 輸入輸出輔助
// ============================================================================

// readPlanInput 讀取 {resources, projects}
func readPlanInput(path string) (types.PlanInput, error) {
	var input types.PlanInput
	if err := readFile(path, &input); err != nil {
		return types.PlanInput{}, err
	}
	return input, nil
}

func readFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(raw, v)
	} else {
		err = yaml.Unmarshal(raw, v)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func writeYAMLFile(path string, v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}

// renderOptions 只有輸出到終端時才上色
func renderOptions(w io.Writer) render.Options {
	if f, ok := w.(*os.File); ok {
		return render.Detect(f)
	}
	return render.Options{}
}

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want %s or %s)", format, formatTable, formatJSON)
	}
}
