package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/mechflow/internal/ledger"
	"github.com/ChuLiYu/mechflow/internal/planner"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

// Client PlanningService 的客戶端
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient conn 由呼叫端建立與關閉
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return fmt.Errorf("rpc %s failed: %w", method, err)
	}
	return fromStruct(resp, out)
}

// Generate 遠端排產；dryRun 時不寫入台帳
func (c *Client) Generate(ctx context.Context, input types.PlanInput, dryRun bool) (*planner.Report, error) {
	var report planner.Report
	if err := c.invoke(ctx, methodGenerate, GenerateRequest{PlanInput: input, DryRun: dryRun}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Toggle 遠端翻轉任務
func (c *Client) Toggle(ctx context.Context, taskID string) (types.ScheduleTask, error) {
	var task types.ScheduleTask
	err := c.invoke(ctx, methodToggle, ToggleRequest{TaskID: taskID}, &task)
	return task, err
}

// Check 遠端產能檢查
func (c *Client) Check(ctx context.Context, steps []types.ManufacturingStep, availableTypes []string) ([]string, error) {
	var resp CheckResponse
	if err := c.invoke(ctx, methodCheck, CheckRequest{Steps: steps, AvailableTypes: availableTypes}, &resp); err != nil {
		return nil, err
	}
	return resp.Warnings, nil
}

// Stats 遠端台帳統計
func (c *Client) Stats(ctx context.Context) (ledger.Stats, error) {
	var stats ledger.Stats
	err := c.invoke(ctx, methodStats, struct{}{}, &stats)
	return stats, err
}
