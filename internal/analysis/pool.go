// ============================================================================
// MechFlow Analysis Pool - 並發圖紙分析
// ============================================================================
//
// Package: internal/analysis
// 文件: pool.go
// 功能: 以固定數量的 worker 同時分析多張圖紙
//
// 架構組件:
//   Submit() --> taskCh --> worker 1..N --> resultCh --> Results()
//
//   每個 worker：
//     1. 從 taskCh 取得圖紙
//     2. 以 context.WithTimeout 呼叫 Analyzer
//     3. 成功 → Intake() 轉成 Part；失敗 → Failed() 標記 error
//     4. 結果送到 resultCh
//
// 生命週期:
//   1. NewPool()     - 建立 Pool，初始化 channels
//   2. Start(ctx)    - 啟動 worker goroutines
//   3. Submit()      - 提交圖紙
//   4. Results()     - 讀取結果（呼叫端需持續讀取直到 channel 關閉）
//   5. Stop()        - 不再接受提交，等待進行中的分析結束後關閉 resultCh
//
// 並發控制:
//   Submit 在讀鎖內送出任務，Stop 先關閉 stopCh 讓阻塞中的 Submit 離開，
//   再取得寫鎖關閉 taskCh，因此不會對已關閉的 channel 寫入。
//
// ============================================================================

package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/mechflow/internal/capability"
	"github.com/ChuLiYu/mechflow/internal/logger"
	"github.com/ChuLiYu/mechflow/internal/metrics"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法提交新任務
	ErrPoolClosed = errors.New("analysis pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動，無法提交任務
	ErrPoolNotStarted = errors.New("analysis pool not started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// PoolOptions Pool 設定
type PoolOptions struct {
	Workers    int           // worker 數量，預設 4
	BufferSize int           // 任務與結果通道緩衝，預設 64
	Timeout    time.Duration // 單張圖的分析逾時，預設 60s
	Metrics    *metrics.Collector
}

type task struct {
	index   int
	drawing Drawing
}

// Pool 圖紙分析工作池
type Pool struct {
	analyzer  Analyzer
	resources []types.Resource
	available []string
	opts      PoolOptions

	taskCh   chan task
	resultCh chan Result
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu        sync.RWMutex // 保護 taskCh 的關閉
	state     sync.Mutex   // 保護 started / stopped / submitted
	started   bool
	stopped   bool
	submitted int
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立分析工作池
//
// resources 用於產能檢查與提供給分析器的可用工藝清單。
func NewPool(analyzer Analyzer, resources []types.Resource, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Pool{
		analyzer:  analyzer,
		resources: append([]types.Resource(nil), resources...),
		available: capability.AvailableTypes(resources).Sorted(),
		opts:      opts,
		taskCh:    make(chan task, opts.BufferSize),
		resultCh:  make(chan Result, opts.BufferSize),
		stopCh:    make(chan struct{}),
	}
}

// Start 啟動 worker；ctx 取消時進行中的分析也會被取消
func (p *Pool) Start(ctx context.Context) error {
	p.state.Lock()
	defer p.state.Unlock()

	if p.started {
		return errors.New("analysis pool already started")
	}

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	p.started = true
	return nil
}

// Submit 提交一張圖紙，回傳其提交序號
func (p *Pool) Submit(ctx context.Context, drawing Drawing) (int, error) {
	p.state.Lock()
	if !p.started {
		p.state.Unlock()
		return 0, ErrPoolNotStarted
	}
	if p.stopped {
		p.state.Unlock()
		return 0, ErrPoolClosed
	}
	index := p.submitted
	p.submitted++
	p.state.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.stopCh:
		return 0, ErrPoolClosed
	default:
	}

	select {
	case p.taskCh <- task{index: index, drawing: drawing}:
		return index, nil
	case <-p.stopCh:
		return 0, ErrPoolClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Results 結果通道，Stop 之後會被關閉
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// Stop 優雅地關閉 Pool
//
// 已提交的圖紙仍會被分析完；呼叫端必須持續讀取 Results()，否則 Stop 會等待。
func (p *Pool) Stop() {
	p.state.Lock()
	if !p.started || p.stopped {
		p.state.Unlock()
		return
	}
	p.stopped = true
	p.state.Unlock()

	close(p.stopCh)

	p.mu.Lock()
	close(p.taskCh)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.resultCh)
}

// WorkerCount 返回 worker 數量
func (p *Pool) WorkerCount() int {
	return p.opts.Workers
}

// ============================================================================
// Worker
// ============================================================================

func (p *Pool) run(ctx context.Context, id int) {
	log := logger.L().Named("analysis").With(logger.Int("worker", id))

	for t := range p.taskCh {
		start := time.Now()
		part, err := p.analyze(ctx, t.drawing)
		result := Result{
			Index:    t.index,
			Drawing:  t.drawing,
			Part:     part,
			Err:      err,
			Duration: time.Since(start),
		}

		if err != nil {
			log.Warn(ctx, "drawing analysis failed",
				logger.String("project_id", t.drawing.ProjectID),
				logger.String("part_id", t.drawing.PartID),
				logger.ErrorF(err))
		} else {
			log.Debug(ctx, "drawing analysed",
				logger.String("part_id", t.drawing.PartID),
				logger.Int("steps", len(part.Steps)),
				logger.Strings("warnings", part.Warnings),
				logger.Duration("took", result.Duration))
		}
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordAnalysis(string(part.AnalysisStatus))
		}

		p.resultCh <- result
	}
}

func (p *Pool) analyze(ctx context.Context, drawing Drawing) (part types.Part, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			part = Failed(drawing)
			err = fmt.Errorf("%w: analyzer panic: %v", ErrAnalysisFailed, r)
		}
	}()

	analysis, err := p.analyzer.Analyze(ctx, drawing, p.available)
	if err == nil {
		// 分析器可能忽略 ctx，逾時的結果同樣不採用
		err = ctx.Err()
	}
	if err != nil {
		if !errors.Is(err, ErrAnalysisFailed) {
			err = errors.Join(ErrAnalysisFailed, err)
		}
		return Failed(drawing), err
	}
	return Intake(drawing.ProjectID, drawing.PartID, analysis, p.resources), nil
}

// ============================================================================
// 批次分析
// ============================================================================

// AnalyzeAll 分析全部圖紙，結果依輸入順序排列
//
// 個別圖紙失敗不影響其他圖紙，失敗資訊在 Result.Err；
// 只有 ctx 被取消時才回傳錯誤。
func AnalyzeAll(ctx context.Context, analyzer Analyzer, drawings []Drawing, resources []types.Resource, opts PoolOptions) ([]Result, error) {
	pool := NewPool(analyzer, resources, opts)
	if err := pool.Start(ctx); err != nil {
		return nil, err
	}

	submitErr := make(chan error, 1)
	go func() {
		defer pool.Stop()
		for _, d := range drawings {
			if _, err := pool.Submit(ctx, d); err != nil {
				submitErr <- err
				return
			}
		}
		submitErr <- nil
	}()

	results := make([]Result, 0, len(drawings))
	for r := range pool.Results() {
		results = append(results, r)
	}

	if err := <-submitErr; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}
