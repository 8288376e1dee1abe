package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/mechflow/internal/ledger"
	"github.com/ChuLiYu/mechflow/internal/planner"
	"github.com/ChuLiYu/mechflow/internal/render"
	"github.com/ChuLiYu/mechflow/internal/storage/wal"
)

func buildToggleCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "toggle <taskId>",
		Short: "Toggle a task's completion in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			return a.withPlanner(cmd.Context(), func(p *planner.Planner) error {
				task, err := p.Toggle(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if format == formatJSON {
					return writeJSON(out, task)
				}
				state := "未完成"
				if task.Completed {
					state = "已完成 " + task.CompletedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "%s  %s / %s  %s  [%s]\n",
					task.TaskID, task.PartName, task.Description, task.ResourceName, state)
				return render.Stats(out, p.Stats(), renderOptions(out))
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "output format: table or json")
	return cmd
}

func buildStatusCommand(a *app) *cobra.Command {
	var showSchedule bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and ledger status",
		Long:  "Display the effective configuration, journal statistics and task progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg := a.cfg

			fmt.Fprintln(out, "📋 Configuration:")
			fmt.Fprintf(out, "  ├─ Config File:    %s\n", a.configPath)
			fmt.Fprintf(out, "  ├─ Analysis:       %d workers, timeout %s\n", cfg.Analysis.Workers, cfg.Analysis.Timeout)
			fmt.Fprintf(out, "  ├─ HTTP:           %s (enabled=%t)\n", cfg.HTTP.Addr, cfg.HTTP.Enabled)
			fmt.Fprintf(out, "  └─ gRPC:           %s (enabled=%t)\n", cfg.GRPC.Addr, cfg.GRPC.Enabled)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "💾 Storage:")
			if cfg.Ledger.WALPath == "" {
				fmt.Fprintln(out, "  └─ in-memory ledger (no WAL configured)")
			} else {
				fmt.Fprintf(out, "  ├─ Snapshot:       %s\n", cfg.Ledger.SnapshotPath)
				fmt.Fprintf(out, "  └─ WAL:            %s (%s)\n", cfg.Ledger.WALPath, walSummary(cfg.Ledger.WALPath))
			}
			fmt.Fprintln(out)

			return a.withPlanner(cmd.Context(), func(p *planner.Planner) error {
				opts := renderOptions(out)
				if err := render.Stats(out, p.Stats(), opts); err != nil {
					return err
				}
				if !showSchedule {
					return nil
				}
				result, err := p.Current()
				if errors.Is(err, ledger.ErrNoSchedule) {
					fmt.Fprintln(out, "\n尚无排产结果，先执行 mechflow plan")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				return render.Schedule(out, result, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&showSchedule, "schedule", false, "also print the current schedule")
	return cmd
}

// walSummary 在 planner 開啟 WAL 前讀取日誌摘要
func walSummary(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "empty"
	}
	stats, err := wal.GetStats(path)
	if err != nil {
		return "unreadable: " + err.Error()
	}
	if stats.TotalEvents == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d events, seq %d-%d, %d replace / %d toggle",
		stats.TotalEvents, stats.FirstSeq, stats.LastSeq,
		stats.EventTypes[wal.EventReplace], stats.EventTypes[wal.EventToggle])
}
