package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/mechflow/internal/analysis"
	"github.com/ChuLiYu/mechflow/internal/capability"
	"github.com/ChuLiYu/mechflow/internal/logger"
	"github.com/ChuLiYu/mechflow/internal/planner"
	"github.com/ChuLiYu/mechflow/internal/render"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

func buildPlanCommand(a *app) *cobra.Command {
	var (
		inputFile  string
		outputFile string
		format     string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Check capability and generate a schedule",
		Long:  "Read resources and projects from a YAML/JSON file, generate a schedule and store it in the task ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			input, err := readPlanInput(inputFile)
			if err != nil {
				return err
			}
			if !analysis.CanGenerate(input.Projects, input.Resources) {
				return fmt.Errorf("nothing to schedule: need at least one resource and one analysed part")
			}

			return a.withPlanner(cmd.Context(), func(p *planner.Planner) error {
				plan := p.Plan
				if dryRun {
					plan = p.Preview
				}
				report, err := plan(cmd.Context(), input)
				if err != nil {
					return err
				}

				if outputFile != "" {
					if err := writeJSONFile(outputFile, report.Result); err != nil {
						return fmt.Errorf("failed to write %s: %w", outputFile, err)
					}
					logger.Info(cmd.Context(), "schedule written", logger.String("path", outputFile))
				}
				return printReport(cmd, report, format)
			})
		},
	}

	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "plan file with resources and projects")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "also write the schedule result as JSON to this path")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format: table or json")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without storing the schedule in the ledger")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printReport(cmd *cobra.Command, report *planner.Report, format string) error {
	out := cmd.OutOrStdout()
	if format == formatJSON {
		return writeJSON(out, report.Result)
	}

	opts := renderOptions(out)
	if err := render.Warnings(out, report.Warnings, opts); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if len(report.Skipped) > 0 {
		fmt.Fprintf(out, "未分析完成，跳过零件: %v\n\n", report.Skipped)
	}
	if err := render.Schedule(out, report.Result, opts); err != nil {
		return err
	}
	if report.Revision > 0 {
		fmt.Fprintf(out, "台账版本 %d\n", report.Revision)
	}
	return nil
}

func buildCheckCommand(a *app) *cobra.Command {
	var inputFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "List capability gaps per part",
		Long:  "Compare every part's process types with the shop's resources and list what would be outsourced",
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := readPlanInput(inputFile)
			if err != nil {
				return err
			}
			report := capability.Report(capability.Annotate(input.Projects, input.Resources))
			return render.Warnings(cmd.OutOrStdout(), report, renderOptions(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "plan file with resources and projects")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// drawingManifest analyze 的輸入：資源、專案與待分析的圖紙
type drawingManifest struct {
	Resources []types.Resource   `json:"resources" yaml:"resources"`
	Projects  []types.Project    `json:"projects" yaml:"projects"`
	Drawings  []analysis.Drawing `json:"drawings" yaml:"drawings"`
}

func buildAnalyzeCommand(a *app) *cobra.Command {
	var (
		inputFile  string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Turn drawing analyses into schedulable parts",
		Long:  "Read the analysis result of every listed drawing, validate it and emit a plan file with the parts attached to their projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var manifest drawingManifest
			if err := readFile(inputFile, &manifest); err != nil {
				return err
			}

			baseDir := a.cfg.Analysis.BaseDir
			if baseDir == "" {
				baseDir = filepath.Dir(inputFile)
			}

			results, err := analysis.AnalyzeAll(cmd.Context(), analysis.NewFileAnalyzer(baseDir),
				manifest.Drawings, manifest.Resources, analysis.PoolOptions{
					Workers:    a.cfg.Analysis.Workers,
					BufferSize: a.cfg.Analysis.BufferSize,
					Timeout:    a.cfg.Analysis.Timeout,
				})
			if err != nil {
				return err
			}

			parts := make([]types.Part, 0, len(results))
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s/%s: %v\n", r.Drawing.ProjectID, r.Drawing.PartID, r.Err)
				}
				parts = append(parts, r.Part)
			}

			projects, orphans := analysis.Attach(manifest.Projects, parts)
			for _, part := range orphans {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠ part %s references unknown project %q\n", part.ID, part.ProjectID)
			}

			plan := types.PlanInput{Resources: manifest.Resources, Projects: projects}
			if outputFile != "" {
				return writeYAMLFile(outputFile, plan)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(plan); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "manifest with resources, projects and drawings")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the resulting plan to this path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
