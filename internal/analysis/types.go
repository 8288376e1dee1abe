package analysis

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// Drawing 一張待分析的零件圖
type Drawing struct {
	ProjectID string `json:"projectId" yaml:"projectId"`
	PartID    string `json:"partId" yaml:"partId"`
	Source    string `json:"source" yaml:"source"` // 分析結果檔路徑（或其他分析器可辨識的位置）
}

// Hours 分析結果中的工時
//
// 外部分析服務可能回傳數字、數字字串或垃圾值；
// 無法解析時記為 NaN，交給排產前的驗證拒絕。
type Hours float64

// UnmarshalJSON 接受數字或字串
func (h *Hours) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*h = Hours(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*h = parseHours(s)
		return nil
	}
	*h = Hours(math.NaN())
	return nil
}

// UnmarshalYAML 接受數字或字串
func (h *Hours) UnmarshalYAML(node *yaml.Node) error {
	*h = parseHours(node.Value)
	return nil
}

func parseHours(s string) Hours {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "h")
	s = strings.TrimSuffix(s, "小时")
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Hours(math.NaN())
	}
	return Hours(n)
}

// AnalyzedStep 外部分析服務回傳的單一工序（未經驗證）
type AnalyzedStep struct {
	ProcessType    string `json:"processType" yaml:"processType"`
	EstimatedHours Hours  `json:"estimatedHours" yaml:"estimatedHours"`
	Description    string `json:"description" yaml:"description"`
}

// Analysis 一張圖的分析結果
type Analysis struct {
	PartName string         `json:"partName" yaml:"partName"`
	Steps    []AnalyzedStep `json:"steps" yaml:"steps"`
}

// Analyzer 圖紙分析服務
//
// availableTypes 為工廠目前擁有的工藝類型，供分析器參考；
// 回傳的內容一律視為不可信。
type Analyzer interface {
	Analyze(ctx context.Context, drawing Drawing, availableTypes []string) (Analysis, error)
}

// AnalyzerFunc 讓一般函式實作 Analyzer
type AnalyzerFunc func(ctx context.Context, drawing Drawing, availableTypes []string) (Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, drawing Drawing, availableTypes []string) (Analysis, error) {
	return f(ctx, drawing, availableTypes)
}

// Result 單張圖的處理結果
type Result struct {
	Index    int           // 提交順序
	Drawing  Drawing       //
	Part     types.Part    // 失敗時 AnalysisStatus = error
	Err      error         // 分析失敗原因
	Duration time.Duration // 實際執行時間
}
