package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-phiguard/internal/api"
	"github.com/miradorstack/mirador-phiguard/internal/audit"
	"github.com/miradorstack/mirador-phiguard/internal/guard"
	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

// AnalyzerService implements the gRPC Analyzer service.
type AnalyzerService struct {
	api.UnimplementedAnalyzerServer

	logger      *slog.Logger
	facade      *guard.Facade
	downstreams map[string]guard.Downstream
	store       audit.Store
	recorder    *metrics.Recorder
	latencies   *utils.LatencyTracker
}

// NewAnalyzerService constructs the service over the resilience facade. downstreams maps each
// dependency name a caller may select to its client; requests without a dependency use the
// facade's own dependency.
func NewAnalyzerService(logger *slog.Logger, facade *guard.Facade, downstreams map[string]guard.Downstream, store audit.Store, recorder *metrics.Recorder) *AnalyzerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzerService{
		logger:      logger,
		facade:      facade,
		downstreams: downstreams,
		store:       store,
		recorder:    recorder,
		latencies:   utils.NewLatencyTracker(1024),
	}
}

// Analyze de-identifies the text and runs the protected downstream call. Fallbacks are returned
// as successful responses; only rejected input maps to InvalidArgument.
func (s *AnalyzerService) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.facade == nil || len(s.downstreams) == 0 {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}

	domainReq, err := api.FromProtoAnalyzeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	facade := s.facade
	dependency := domainReq.Dependency
	if dependency == "" {
		dependency = facade.Dependency()
	}
	// Unknown names are rejected before a breaker is created for them.
	downstream, ok := s.downstreams[dependency]
	if !ok || downstream == nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("unknown dependency %q", dependency))
	}
	if dependency != facade.Dependency() {
		facade = facade.For(dependency)
	}

	start := time.Now()
	res, err := facade.Analyze(ctx, api.CorrelationIDFrom(ctx, domainReq.CorrelationID), domainReq.Text, downstream)
	duration := time.Since(start)
	_ = grpc.SetHeader(ctx, metadata.Pairs(api.CorrelationHeader, res.CorrelationID))

	if errors.Is(err, resilience.ErrValidation) {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s (correlation_id=%s)", res.Fallback.Message, res.CorrelationID))
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("analysis latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	out, err := api.ToProtoStructuredResult(res)
	if err != nil {
		s.logger.Error("encode analysis result failed", slog.String("correlation_id", res.CorrelationID), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return out, nil
}

// GetAuditTrail returns the redaction events recorded for a correlation id.
func (s *AnalyzerService) GetAuditTrail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "audit store not configured")
	}
	explicit, err := api.CorrelationIDField(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id := api.CorrelationIDFrom(ctx, explicit)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "correlation_id is required")
	}

	events, err := s.store.List(ctx, id)
	if err != nil {
		s.logger.Error("list audit trail failed", slog.String("correlation_id", id), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to read audit trail")
	}
	out, err := api.ToProtoAuditTrail(id, events)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode audit trail")
	}
	return out, nil
}

// GetMetricsSnapshot returns the in-process metric aggregates.
func (s *AnalyzerService) GetMetricsSnapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.recorder == nil {
		return nil, status.Error(codes.FailedPrecondition, "metrics recorder not configured")
	}
	out, err := api.ToProtoMetricsSnapshot(s.recorder.Snapshot())
	if err != nil {
		s.logger.Error("encode metrics snapshot failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode metrics snapshot")
	}
	return out, nil
}
