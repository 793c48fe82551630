package qdrant

import (
	"context"
	"net"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/jllopis/ecomentor/pkg/vector"
)

type fakePoints struct {
	pb.UnimplementedPointsServer
	lastSearch *pb.SearchPoints
	lastUpsert *pb.UpsertPoints
}

func (f *fakePoints) Search(_ context.Context, req *pb.SearchPoints) (*pb.SearchResponse, error) {
	f.lastSearch = req
	return &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "6f1c"}},
		Score: 0.82,
		Payload: map[string]*pb.Value{
			"text":  {Kind: &pb.Value_StringValue{StringValue: "기준금리 동결"}},
			"title": {Kind: &pb.Value_StringValue{StringValue: "한국은행"}},
			"tags": {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: []*pb.Value{
				{Kind: &pb.Value_StringValue{StringValue: "rates"}},
			}}}},
		},
	}}}, nil
}

func (f *fakePoints) Upsert(_ context.Context, req *pb.UpsertPoints) (*pb.PointsOperationResponse, error) {
	f.lastUpsert = req
	return &pb.PointsOperationResponse{}, nil
}

type fakeCollections struct {
	pb.UnimplementedCollectionsServer
	created []string
}

func (f *fakeCollections) CollectionExists(_ context.Context, req *pb.CollectionExistsRequest) (*pb.CollectionExistsResponse, error) {
	exists := req.GetCollectionName() == "existing"
	return &pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: exists}}, nil
}

func (f *fakeCollections) Create(_ context.Context, req *pb.CreateCollection) (*pb.CollectionOperationResponse, error) {
	f.created = append(f.created, req.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func newTestStore(t *testing.T) (*Store, *fakePoints, *fakeCollections) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	points := &fakePoints{}
	collections := &fakeCollections{}
	pb.RegisterPointsServer(srv, points)
	pb.RegisterCollectionsServer(srv, collections)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewWithConn(conn), points, collections
}

func TestSearchConvertsPayload(t *testing.T) {
	store, points, _ := newTestStore(t)
	results, err := store.Search(context.Background(), "ecomentor_macro", []float32{0.1, 0.2}, 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if points.lastSearch.GetLimit() != 5 || points.lastSearch.ScoreThreshold != nil {
		t.Errorf("unexpected search request %+v", points.lastSearch)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.ID != "6f1c" || r.String("text") != "기준금리 동결" || r.String("title") != "한국은행" {
		t.Errorf("unexpected result %+v", r)
	}
	if tags, ok := r.Payload["tags"].([]any); !ok || len(tags) != 1 || tags[0] != "rates" {
		t.Errorf("unexpected tags %v", r.Payload["tags"])
	}
}

func TestUpsertAndEnsureCollection(t *testing.T) {
	store, points, collections := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureCollection(ctx, "existing", 768); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := store.EnsureCollection(ctx, "ecomentor_firm", 768); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(collections.created) != 1 || collections.created[0] != "ecomentor_firm" {
		t.Errorf("expected only the missing collection to be created, got %v", collections.created)
	}

	err := store.Upsert(ctx, "ecomentor_firm", []vector.Point{{
		ID:      "0b7e5f0e-3d4a-4c51-9f0e-2a9d8b5c1e11",
		Vector:  []float32{1, 2},
		Payload: map[string]any{"text": "실적 개선", "score": 0.5, "tags": []string{"semis"}, "skip": struct{}{}},
	}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got := points.lastUpsert
	if got.GetCollectionName() != "ecomentor_firm" || !got.GetWait() || len(got.GetPoints()) != 1 {
		t.Fatalf("unexpected upsert %+v", got)
	}
	payload := got.GetPoints()[0].GetPayload()
	if _, ok := payload["skip"]; ok {
		t.Errorf("unsupported payload values must be dropped")
	}
	if payload["text"].GetStringValue() != "실적 개선" || payload["score"].GetDoubleValue() != 0.5 {
		t.Errorf("unexpected payload %v", payload)
	}
}
