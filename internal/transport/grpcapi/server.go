// ============================================================================
// MechFlow gRPC PlanningService
// ============================================================================
//
// Package: internal/transport/grpcapi
// 文件: server.go
// 功能: 以 gRPC 對外提供排產、任務翻轉與產能檢查
//
// 訊息格式:
//   請求與回應皆為 google.protobuf.Struct，欄位與 HTTP API 的 JSON 一致，
//   不需要額外的 .proto 生成程式碼。
//
//   Generate  {resources, projects, dryRun?} → {result, revision, warnings, projects, skipped}
//   Toggle    {taskId}                       → ScheduleTask
//   Check     {steps, availableTypes}        → {warnings}
//   Stats     {}                             → Stats
//
// ============================================================================

package grpcapi

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/mechflow/internal/capability"
	"github.com/ChuLiYu/mechflow/internal/ledger"
	"github.com/ChuLiYu/mechflow/internal/logger"
	"github.com/ChuLiYu/mechflow/internal/planner"
	"github.com/ChuLiYu/mechflow/internal/scheduler"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

// Service gRPC 服務需要的排產能力，由 *planner.Planner 實作
type Service interface {
	Plan(ctx context.Context, input types.PlanInput) (*planner.Report, error)
	Preview(ctx context.Context, input types.PlanInput) (*planner.Report, error)
	Toggle(ctx context.Context, taskID string) (types.ScheduleTask, error)
	Stats() ledger.Stats
}

// GenerateRequest Generate 請求
type GenerateRequest struct {
	types.PlanInput
	DryRun bool `json:"dryRun,omitempty"`
}

// ToggleRequest Toggle 請求
type ToggleRequest struct {
	TaskID string `json:"taskId"`
}

// CheckRequest Check 請求
type CheckRequest struct {
	Steps          []types.ManufacturingStep `json:"steps"`
	AvailableTypes []string                  `json:"availableTypes"`
}

// CheckResponse Check 回應
type CheckResponse struct {
	Warnings []string `json:"warnings"`
}

// Server PlanningService 實作
type Server struct {
	svc Service
}

var _ PlanningServiceServer = (*Server)(nil)

// NewServer 建立服務實例
func NewServer(svc Service) *Server {
	return &Server{svc: svc}
}

// NewGRPCServer 建立掛好攔截器、PlanningService 與健康檢查的 grpc.Server
func NewGRPCServer(svc Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryLogging()),
	}, opts...)

	s := grpc.NewServer(opts...)
	RegisterPlanningServiceServer(s, NewServer(svc))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

// Generate 產生排產
func (s *Server) Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in GenerateRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	plan := s.svc.Plan
	if in.DryRun {
		plan = s.svc.Preview
	}
	report, err := plan(ctx, in.PlanInput)
	if err != nil {
		return nil, mapError(err)
	}
	return reply(report)
}

// Toggle 翻轉任務完成狀態
func (s *Server) Toggle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in ToggleRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(in.TaskID) == "" {
		return nil, status.Error(codes.InvalidArgument, "taskId is required")
	}

	task, err := s.svc.Toggle(ctx, in.TaskID)
	if err != nil {
		return nil, mapError(err)
	}
	return reply(task)
}

// Check 產能檢查
func (s *Server) Check(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in CheckRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	warnings := capability.Check(in.Steps, capability.NewTypeSet(in.AvailableTypes...))
	return reply(CheckResponse{Warnings: warnings})
}

// Stats 台帳統計
func (s *Server) Stats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.svc.Stats())
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// mapError 將領域錯誤轉為 gRPC 狀態碼
func mapError(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrTaskNotFound), errors.Is(err, ledger.ErrNoSchedule):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, scheduler.ErrCanceled), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryLogging 以 zap 記錄每次呼叫
func UnaryLogging() grpc.UnaryServerInterceptor {
	log := logger.L().Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		start := time.Now()

		resp, err := handler(ctx, req)

		d := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			log.Warn(ctx, "grpc call failed",
				logger.String("method", method),
				logger.String("code", st.Code().String()),
				logger.Duration("took", d),
				logger.ErrorF(err))
			return resp, err
		}

		log.Debug(ctx, "grpc call",
			logger.String("method", method),
			logger.Duration("took", d))
		return resp, nil
	}
}
