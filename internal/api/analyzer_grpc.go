package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AnalyzerServiceName is the fully-qualified gRPC service name.
const AnalyzerServiceName = "phiguard.v1.Analyzer"

const (
	analyzeMethod            = "/" + AnalyzerServiceName + "/Analyze"
	getAuditTrailMethod      = "/" + AnalyzerServiceName + "/GetAuditTrail"
	getMetricsSnapshotMethod = "/" + AnalyzerServiceName + "/GetMetricsSnapshot"
)

// AnalyzerServer is the server API for the Analyzer service. Messages are google.protobuf.Struct
// so clients need no generated stubs.
type AnalyzerServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAuditTrail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMetricsSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedAnalyzerServer can be embedded to satisfy AnalyzerServer.
type UnimplementedAnalyzerServer struct{}

func (UnimplementedAnalyzerServer) Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Analyze not implemented")
}

func (UnimplementedAnalyzerServer) GetAuditTrail(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetAuditTrail not implemented")
}

func (UnimplementedAnalyzerServer) GetMetricsSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMetricsSnapshot not implemented")
}

// RegisterAnalyzerServer registers srv with s.
func RegisterAnalyzerServer(s grpc.ServiceRegistrar, srv AnalyzerServer) {
	s.RegisterService(&AnalyzerServiceDesc, srv)
}

func unaryHandler(method string, call func(AnalyzerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalyzerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnalyzerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AnalyzerServiceDesc describes the Analyzer service for grpc.Server.
var AnalyzerServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalyzerServiceName,
	HandlerType: (*AnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Analyze",
			Handler:    unaryHandler(analyzeMethod, AnalyzerServer.Analyze),
		},
		{
			MethodName: "GetAuditTrail",
			Handler:    unaryHandler(getAuditTrailMethod, AnalyzerServer.GetAuditTrail),
		},
		{
			MethodName: "GetMetricsSnapshot",
			Handler:    unaryHandler(getMetricsSnapshotMethod, AnalyzerServer.GetMetricsSnapshot),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "phiguard/v1/analyzer.proto",
}

// AnalyzerClient is the client API for the Analyzer service.
type AnalyzerClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalyzerClient wraps an established connection.
func NewAnalyzerClient(cc grpc.ClientConnInterface) *AnalyzerClient {
	return &AnalyzerClient{cc: cc}
}

func (c *AnalyzerClient) Analyze(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, analyzeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnalyzerClient) GetAuditTrail(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getAuditTrailMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnalyzerClient) GetMetricsSnapshot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getMetricsSnapshotMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
