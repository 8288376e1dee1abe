// ============================================================================
// MechFlow Render - 終端排產輸出
// ============================================================================
//
// Package: internal/render
// 文件: render.go
// 功能: 以 專案 → 零件 → 工序 的層級輸出排產結果
//
// 對齊使用顯示寬度（go-runewidth），中文工藝名稱如「外发-热处理」
// 佔兩倍寬度，不能用 len() 或 %-Ns 對齊。
//
// ============================================================================

package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/samber/lo"
	"golang.org/x/term"

	"github.com/ChuLiYu/mechflow/internal/capability"
	"github.com/ChuLiYu/mechflow/internal/ledger"
	"github.com/ChuLiYu/mechflow/internal/scheduler"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

const (
	defaultWidth = 100
	minWidth     = 60
	barWidth     = 20
)

// Options 輸出選項
type Options struct {
	Color bool // 是否輸出 ANSI 顏色
	Width int  // 終端寬度，0 表示預設寬度
}

// Detect 依輸出目標判斷是否為終端並取得寬度
func Detect(f *os.File) Options {
	opts := Options{Width: defaultWidth}
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return opts
	}
	opts.Color = true
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		opts.Width = max(w, minWidth)
	}
	return opts
}

type styles struct {
	header    lipgloss.Style
	project   lipgloss.Style
	muted     lipgloss.Style
	done      lipgloss.Style
	outsource lipgloss.Style
	warning   lipgloss.Style
	color     bool
}

func newStyles(color bool) styles {
	return styles{
		header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		project:   lipgloss.NewStyle().Bold(true),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		done:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		outsource: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		color:     color,
	}
}

// paint 先補齊寬度再上色，ANSI 控制碼不計入寬度
func (s styles) paint(style lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return style.Render(text)
}

// column 依顯示寬度截斷並補齊
func column(text string, width int) string {
	if runewidth.StringWidth(text) > width {
		text = runewidth.Truncate(text, width, "…")
	}
	return runewidth.FillRight(text, width)
}

// ============================================================================
// 排產結果
// ============================================================================

// Schedule 輸出排產結果
func Schedule(w io.Writer, result *types.ScheduleResult, opts Options) error {
	st := newStyles(opts.Color)
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}

	var sb strings.Builder
	sb.WriteString(st.paint(st.header, "排产结果"))
	sb.WriteString("\n")
	if result == nil || len(result.Tasks) == 0 {
		sb.WriteString(st.paint(st.muted, "  (无任务)"))
		sb.WriteString("\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	sb.WriteString(st.paint(st.muted, result.Explanation))
	sb.WriteString("\n\n")

	// 欄寬：狀態 2、區間 18、資源 16，其餘給工序描述
	const markW, spanW, resW = 2, 18, 16
	descW := max(width-markW-spanW-resW-8, 12)

	for _, project := range result.ByProject() {
		sb.WriteString(st.paint(st.project, fmt.Sprintf("■ %s (%s)", project.ProjectName, project.ProjectID)))
		sb.WriteString("\n")

		for _, part := range project.Parts {
			hours := lo.SumBy(part.Tasks, func(t types.ScheduleTask) float64 { return t.Duration })
			sb.WriteString(fmt.Sprintf("  %s %s\n", part.PartName,
				st.paint(st.muted, fmt.Sprintf("[%s, %sh]", part.PartID, scheduler.FormatHours(hours)))))

			for _, task := range part.Tasks {
				sb.WriteString("    ")
				sb.WriteString(taskLine(st, task, markW, spanW, resW, descW))
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("总工期 %sh，共 %d 道工序\n", scheduler.FormatHours(result.TotalDuration), len(result.Tasks)))
	_, err := io.WriteString(w, sb.String())
	return err
}

func taskLine(st styles, task types.ScheduleTask, markW, spanW, resW, descW int) string {
	mark := st.paint(st.muted, column("·", markW))
	if task.Completed {
		mark = st.paint(st.done, column("✓", markW))
	}

	span := column(fmt.Sprintf("%sh → %sh", scheduler.FormatHours(task.StartTime), scheduler.FormatHours(task.EndTime())), spanW)

	resource := column(task.ResourceName, resW)
	if task.IsOutsourced() {
		resource = st.paint(st.outsource, resource)
	}

	desc := column(task.Description, descW)
	if task.Completed {
		desc = st.paint(st.muted, desc)
	}
	return strings.Join([]string{mark, span, resource, desc}, " ")
}

// ============================================================================
// 產能警告與統計
// ============================================================================

// Warnings 輸出零件的產能缺口
func Warnings(w io.Writer, report []capability.PartWarnings, opts Options) error {
	st := newStyles(opts.Color)

	var sb strings.Builder
	sb.WriteString(st.paint(st.header, "产能检查"))
	sb.WriteString("\n")
	if len(report) == 0 {
		sb.WriteString(st.paint(st.done, "  所有工序均可由厂内资源完成"))
		sb.WriteString("\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	nameW := lo.Max(lo.Map(report, func(p capability.PartWarnings, _ int) int {
		return runewidth.StringWidth(p.PartName)
	}))
	for _, part := range report {
		sb.WriteString(fmt.Sprintf("  ⚠ %s  %s %s\n",
			column(part.PartName, nameW),
			st.paint(st.muted, part.ProjectID+"/"+part.PartID),
			st.paint(st.warning, "需外发: "+strings.Join(part.Warnings, ", "))))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Stats 輸出台帳進度
func Stats(w io.Writer, stats ledger.Stats, opts Options) error {
	st := newStyles(opts.Color)

	filled := int(float64(barWidth) * stats.Progress)
	filled = min(max(filled, 0), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	var sb strings.Builder
	sb.WriteString(st.paint(st.header, "任务进度"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  %s %3.0f%%  %d/%d 已完成\n",
		st.paint(st.done, bar), stats.Progress*100, stats.Completed, stats.Total))
	sb.WriteString(st.paint(st.muted, fmt.Sprintf("  待完成 %d  外发 %d  版本 %d", stats.Pending, stats.Outsourced, stats.Revision)))
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
