package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// Explain 產生排產說明
//
// 內容完全由排產過程機械式推導：工序數、零件數、總工期，
// 以及所有被安排外發的工藝類型（依首次出現順序）。
func Explain(taskCount, partCount int, totalDuration float64, outsourced []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "按交期优先排产：共 %d 个零件、%d 道工序，总工期 %s 小时。",
		partCount, taskCount, FormatHours(totalDuration))

	if len(outsourced) == 0 {
		sb.WriteString("所有工序均由厂内产能完成，无外发。")
		return sb.String()
	}

	fmt.Fprintf(&sb, "以下工艺因工厂无对应产能而安排外发：%s。", strings.Join(outsourced, "、"))
	return sb.String()
}

// OutsourcedTypes 從排產結果取出外發工藝類型（依任務順序，不重複）
func OutsourcedTypes(result *types.ScheduleResult) []string {
	if result == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, task := range result.Tasks {
		if !task.IsOutsourced() {
			continue
		}
		pt := strings.TrimPrefix(task.ResourceName, types.OutsourceNamePrefix)
		if _, ok := seen[pt]; ok {
			continue
		}
		seen[pt] = struct{}{}
		out = append(out, pt)
	}
	return out
}

// FormatHours 以最短形式輸出小時數，例如 6、2.5
func FormatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
