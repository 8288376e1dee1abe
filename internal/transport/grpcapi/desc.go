package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName 完整服務名稱
const ServiceName = "mechflow.v1.PlanningService"

const (
	methodGenerate = "Generate"
	methodToggle   = "Toggle"
	methodCheck    = "Check"
	methodStats    = "Stats"
)

// PlanningServiceServer 服務端介面，訊息一律為 google.protobuf.Struct，
// 內容與 HTTP API 的 JSON 相同
type PlanningServiceServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Toggle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc PlanningService 的服務描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlanningServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGenerate, Handler: unary(methodGenerate, PlanningServiceServer.Generate)},
		{MethodName: methodToggle, Handler: unary(methodToggle, PlanningServiceServer.Toggle)},
		{MethodName: methodCheck, Handler: unary(methodCheck, PlanningServiceServer.Check)},
		{MethodName: methodStats, Handler: unary(methodStats, PlanningServiceServer.Stats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mechflow/v1/planning.proto",
}

// RegisterPlanningServiceServer 註冊服務
func RegisterPlanningServiceServer(s grpc.ServiceRegistrar, srv PlanningServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type call func(PlanningServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn call) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(PlanningServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(PlanningServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
