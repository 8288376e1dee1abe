// ============================================================================
// MechFlow 排產器 - 確定性貪婪列表排程
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 將專案 → 零件 → 工序 排入有限產能的資源實例，產生任務時間表
//
// 演算法:
//   1. 專案依交期升序排列；同交期依輸入順序（穩定排序）
//   2. 零件優先順序 = (專案順位, 零件在專案中的順序)
//   3. 每個資源類型維護 K 個實例游標（next-free-time），初始為 0
//   4. 就緒佇列保存每個零件下一道未排工序（head），每次取優先順序最高者
//   5. 指派：
//      - 有對應資源類型 → 選 next-free-time 最小的實例（同值取最小 index）
//        start = max(前一道工序結束時間, 實例游標)
//      - 無對應資源 → 外發（OUTSOURCE），容量無限，只受同零件先後順序限制
//   6. totalDuration = max(start + duration)，沒有任務時為 0
//
// 確定性:
//   相同輸入永遠產生相同結果；不讀取時鐘、不使用亂數。
//   任務 ID 由 (專案, 零件, 工序順序) 以 UUIDv5 推導。
//
// 取消:
//   每次選取迴圈前檢查 ctx；被取消時不回傳任何部分結果。
//
// 複雜度:
//   O(steps × (log parts + log instances))
//
// ============================================================================

package scheduler

import (
	"cmp"
	"container/heap"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// taskNamespace 任務 ID 的 UUIDv5 命名空間
var taskNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("mechflow.schedule.task"))

// ============================================================================
// 資料結構定義
// ============================================================================

// instance 資源實例的游標
type instance struct {
	id       string  // 實例識別碼：資源 id + 實例 index
	name     string  // 顯示名稱（K>1 時加上序號）
	nextFree float64 // 下次可用時間（小時）
	index    int     // 在資源池中的全域 index，用於平手時的決勝
}

// instancePool 同一工藝類型的所有實例（最小堆積，依 nextFree、index 排序）
type instancePool []*instance

func (p instancePool) Len() int { return len(p) }
func (p instancePool) Less(i, j int) bool {
	if p[i].nextFree != p[j].nextFree {
		return p[i].nextFree < p[j].nextFree
	}
	return p[i].index < p[j].index
}
func (p instancePool) Swap(i, j int)       { p[i], p[j] = p[j], p[i] }
func (p *instancePool) Push(x interface{}) { *p = append(*p, x.(*instance)) }
func (p *instancePool) Pop() interface{} {
	old := *p
	n := len(old)
	item := old[n-1]
	*p = old[:n-1]
	return item
}

// partCursor 零件的排產進度
type partCursor struct {
	rank    int                       // 優先順位，越小越優先
	project *types.Project            // 所屬專案
	part    *types.Part               // 零件
	steps   []types.ManufacturingStep // 依 order 排序後的工序
	next    int                       // 下一道待排工序
	readyAt float64                   // 前一道工序的結束時間
}

// readyQueue 就緒佇列（最小堆積，依 rank 排序）
type readyQueue []*partCursor

func (q readyQueue) Len() int            { return len(q) }
func (q readyQueue) Less(i, j int) bool  { return q[i].rank < q[j].rank }
func (q readyQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x interface{}) { *q = append(*q, x.(*partCursor)) }
func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// run 單次排產的可變狀態，不跨呼叫共用
type run struct {
	pools       map[string]*instancePool
	queue       readyQueue
	tasks       []types.ScheduleTask
	outsourced  []string // 外發工藝，保持首次出現順序
	outsourceIx map[string]struct{}
	parts       int
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Generate 產生排產結果
//
// 參數：
//   - ctx: 取消訊號；取消時回傳 ErrCanceled，且沒有部分結果
//   - projects: 專案快照（零件的 Warnings 應已由產能檢查寫入）
//   - resources: 資源快照
//
// 返回值：
//   - *types.ScheduleResult: 完整且內部一致的排產結果
//   - error: *ValidationError 或 ErrCanceled
//
// 使用範例：
//
//	result, err := scheduler.Generate(ctx, projects, resources)
//	if errors.Is(err, scheduler.ErrValidation) {
//	    // 輸入資料有誤
//	}
func Generate(ctx context.Context, projects []types.Project, resources []types.Resource) (*types.ScheduleResult, error) {
	if err := Validate(projects, resources); err != nil {
		return nil, err
	}

	r := newRun(projects, resources)

	for r.queue.Len() > 0 {
		// 每次選取前檢查，取消時不回傳部分結果
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
		}

		cursor := heap.Pop(&r.queue).(*partCursor)
		r.assign(cursor)

		cursor.next++
		if cursor.next < len(cursor.steps) {
			heap.Push(&r.queue, cursor)
		}
	}

	return r.result(), nil
}

// newRun 建立資源池與就緒佇列
func newRun(projects []types.Project, resources []types.Resource) *run {
	r := &run{
		pools:       make(map[string]*instancePool),
		outsourceIx: make(map[string]struct{}),
	}

	// 同類型的多個資源合併成一個池，實例 index 依輸入順序遞增
	for _, res := range resources {
		pool, ok := r.pools[res.Type]
		if !ok {
			pool = &instancePool{}
			r.pools[res.Type] = pool
		}
		for k := 0; k < res.Count; k++ {
			*pool = append(*pool, &instance{
				id:    instanceID(res.ID, k),
				name:  instanceName(res.Name, k, res.Count),
				index: pool.Len(),
			})
		}
	}
	for _, pool := range r.pools {
		heap.Init(pool)
	}

	// 專案依交期排序；SortStableFunc 保證同交期時先列者優先
	order := make([]int, len(projects))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return projects[a].Deadline.Compare(projects[b].Deadline)
	})

	rank := 0
	for _, pi := range order {
		project := &projects[pi]
		for ki := range project.Parts {
			part := &project.Parts[ki]
			r.parts++
			if len(part.Steps) == 0 {
				continue
			}
			r.queue = append(r.queue, &partCursor{
				rank:    rank,
				project: project,
				part:    part,
				steps:   sortedSteps(part.Steps),
			})
			rank++
		}
	}
	heap.Init(&r.queue)

	return r
}

// assign 為零件的 head 工序指派資源與時間
func (r *run) assign(c *partCursor) {
	step := c.steps[c.next]

	task := types.ScheduleTask{
		TaskID:      taskID(c.project.ID, c.part.ID, step.Order),
		PartID:      c.part.ID,
		PartName:    c.part.Name,
		ProjectID:   c.project.ID,
		ProjectName: c.project.Name,
		Duration:    step.EstimatedHours,
		Description: step.Description,
	}

	if pool, ok := r.pools[step.ProcessType]; ok {
		inst := heap.Pop(pool).(*instance)
		task.StartTime = max(c.readyAt, inst.nextFree)
		task.ResourceID = inst.id
		task.ResourceName = inst.name
		inst.nextFree = task.StartTime + task.Duration
		heap.Push(pool, inst)
	} else {
		task.StartTime = c.readyAt
		task.ResourceID = types.OutsourceResourceID
		task.ResourceName = types.OutsourceName(step.ProcessType)
		if _, seen := r.outsourceIx[step.ProcessType]; !seen {
			r.outsourceIx[step.ProcessType] = struct{}{}
			r.outsourced = append(r.outsourced, step.ProcessType)
		}
	}

	c.readyAt = task.StartTime + task.Duration
	r.tasks = append(r.tasks, task)
}

// result 彙整成排產結果
func (r *run) result() *types.ScheduleResult {
	var total float64
	for _, t := range r.tasks {
		total = max(total, t.EndTime())
	}

	tasks := r.tasks
	if tasks == nil {
		tasks = []types.ScheduleTask{}
	}

	return &types.ScheduleResult{
		TotalDuration: total,
		Explanation:   Explain(len(r.tasks), r.parts, total, r.outsourced),
		Tasks:         tasks,
	}
}

// ============================================================================
// 輔助函式
// ============================================================================

func sortedSteps(steps []types.ManufacturingStep) []types.ManufacturingStep {
	out := slices.Clone(steps)
	slices.SortStableFunc(out, func(a, b types.ManufacturingStep) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return out
}

func instanceID(resourceID string, k int) string {
	return resourceID + "-" + strconv.Itoa(k)
}

func instanceName(name string, k, count int) string {
	if count <= 1 {
		return name
	}
	return fmt.Sprintf("%s #%d", name, k+1)
}

// taskID 以長度前綴組成鍵，id 內含分隔符時也不會撞號
func taskID(projectID, partID string, order int) string {
	key := fmt.Sprintf("%d:%s|%d:%s|%d", len(projectID), projectID, len(partID), partID, order)
	return uuid.NewSHA1(taskNamespace, []byte(key)).String()
}
