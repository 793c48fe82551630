// Package qdrant implements vector.Store over Qdrant's gRPC API.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/ecomentor/pkg/vector"
)

type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to a Qdrant gRPC endpoint such as localhost:6334.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	s := NewWithConn(conn)
	s.conn = conn
	return s, nil
}

// NewWithConn builds a store on an existing connection. Close is then the
// caller's responsibility.
func NewWithConn(conn grpc.ClientConnInterface) *Store {
	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}
}

// Close releases the connection opened by New.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates a cosine collection unless it already exists.
func (s *Store) EnsureCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes points with UUID ids and waits for the write to apply.
func (s *Store) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		qPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: toPayload(p.Payload),
		}
	}
	wait := true
	if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qPoints,
	}); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the nearest points with their payloads.
func (s *Store) Search(ctx context.Context, collection string, vec []float32, limit int, scoreThreshold float32) ([]vector.SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = &scoreThreshold
	}
	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]vector.SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		id := r.GetId().GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", r.GetId().GetNum())
		}
		results[i] = vector.SearchResult{ID: id, Score: r.GetScore(), Payload: fromPayload(r.GetPayload())}
	}
	return results, nil
}

func toPayload(in map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(in))
	for k, v := range in {
		if pv := toValue(v); pv != nil {
			out[k] = pv
		}
	}
	return out
}

func toValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case []string:
		list := make([]*pb.Value, len(val))
		for i, s := range val {
			list[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}
	case []any:
		list := make([]*pb.Value, 0, len(val))
		for _, item := range val {
			if pv := toValue(item); pv != nil {
				list = append(list, pv)
			}
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}
	}
	return nil
}

func fromPayload(in map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if val, ok := fromValue(v); ok {
			out[k] = val
		}
	}
	return out
}

func fromValue(v *pb.Value) (any, bool) {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue, true
	case *pb.Value_IntegerValue:
		return kind.IntegerValue, true
	case *pb.Value_DoubleValue:
		return kind.DoubleValue, true
	case *pb.Value_BoolValue:
		return kind.BoolValue, true
	case *pb.Value_ListValue:
		items := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			if val, ok := fromValue(item); ok {
				items = append(items, val)
			}
		}
		return items, true
	}
	return nil, false
}
