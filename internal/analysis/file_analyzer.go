package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileAnalyzer 讀取預先產生的分析結果檔（JSON 或 YAML）
//
// 外部的圖紙分析模型不在本專案內執行，它的輸出以檔案形式交給排產。
type FileAnalyzer struct {
	BaseDir string // 相對路徑的基準目錄
}

// NewFileAnalyzer 建立檔案分析器
func NewFileAnalyzer(baseDir string) *FileAnalyzer {
	return &FileAnalyzer{BaseDir: baseDir}
}

// Analyze 讀取 drawing.Source 指向的分析結果
func (a *FileAnalyzer) Analyze(ctx context.Context, drawing Drawing, _ []string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	if strings.TrimSpace(drawing.Source) == "" {
		return Analysis{}, fmt.Errorf("%w: part %s has no source", ErrAnalysisFailed, drawing.PartID)
	}

	path := drawing.Source
	if !filepath.IsAbs(path) && a.BaseDir != "" {
		path = filepath.Join(a.BaseDir, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	var out Analysis
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &out)
	default:
		// YAML 是 JSON 的超集
		err = yaml.Unmarshal(raw, &out)
	}
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: parse %s: %v", ErrAnalysisFailed, filepath.Base(path), err)
	}
	return out, nil
}
