package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/models"
)

// CorrelationHeader carries a caller-supplied correlation id in gRPC metadata and HTTP headers.
const CorrelationHeader = "x-correlation-id"

// AnalyzeRequest is the domain view of an Analyze call.
type AnalyzeRequest struct {
	Text          string
	CorrelationID string
	Dependency    string
}

// FromProtoAnalyzeRequest maps the request struct into an AnalyzeRequest.
func FromProtoAnalyzeRequest(req *structpb.Struct) (AnalyzeRequest, error) {
	if req == nil {
		return AnalyzeRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()
	text, err := stringField(fields, "text")
	if err != nil {
		return AnalyzeRequest{}, err
	}
	if strings.TrimSpace(text) == "" {
		return AnalyzeRequest{}, fmt.Errorf("text is required")
	}
	id, err := stringField(fields, "correlation_id")
	if err != nil {
		return AnalyzeRequest{}, err
	}
	dep, err := stringField(fields, "dependency")
	if err != nil {
		return AnalyzeRequest{}, err
	}
	return AnalyzeRequest{Text: text, CorrelationID: id, Dependency: dep}, nil
}

// CorrelationIDFrom returns explicit when set, otherwise the x-correlation-id metadata value.
// An empty result lets the correlation package generate one.
func CorrelationIDFrom(ctx context.Context, explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(CorrelationHeader) {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// CorrelationIDField extracts correlation_id from a request struct.
func CorrelationIDField(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", nil
	}
	return stringField(req.GetFields(), "correlation_id")
}

// ToProtoStructuredResult converts an Analyze outcome.
func ToProtoStructuredResult(res models.StructuredResult) (*structpb.Struct, error) {
	return toStruct(res)
}

// ToProtoAuditTrail converts the redaction events of one correlation id.
func ToProtoAuditTrail(correlationID string, events []models.RedactionEvent) (*structpb.Struct, error) {
	if events == nil {
		events = []models.RedactionEvent{}
	}
	return toStruct(struct {
		CorrelationID string                  `json:"correlation_id"`
		Events        []models.RedactionEvent `json:"events"`
	}{correlationID, events})
}

// ToProtoMetricsSnapshot converts a recorder snapshot.
func ToProtoMetricsSnapshot(snap metrics.Snapshot) (*structpb.Struct, error) {
	return toStruct(snap)
}

// FromProtoStructuredResult decodes a result struct, as returned to clients.
func FromProtoStructuredResult(s *structpb.Struct) (models.StructuredResult, error) {
	var res models.StructuredResult
	if err := fromStruct(s, &res); err != nil {
		return models.StructuredResult{}, err
	}
	return res, nil
}

func stringField(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok || v == nil {
		return "", nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", fmt.Errorf("%s must be a string", name)
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("response is nil")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
