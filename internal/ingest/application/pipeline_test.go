package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleetpulse-cloud/internal/contract"
	"fleetpulse-cloud/internal/ingest/application/events"
	ingest "fleetpulse-cloud/internal/ingest/domain"
)

type memStore struct {
	mu          sync.Mutex
	points      map[string]ingest.Point
	quarantined []ingest.QuarantinedPoint
	batches     []ingest.Batch
}

func newMemStore() *memStore {
	return &memStore{points: make(map[string]ingest.Point)}
}

func (s *memStore) CommitBatch(_ context.Context, batch *ingest.Batch, accepted []ingest.Point, quarantined []ingest.QuarantinedPoint) (ingest.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := ingest.CommitResult{
		StoredAccepted:    make(map[string]bool),
		StoredQuarantined: make(map[string]bool),
	}
	for _, point := range accepted {
		key := point.DeviceID + "|" + point.MessageID
		if _, exists := s.points[key]; exists {
			batch.Duplicates++
			continue
		}
		s.points[key] = point
		result.StoredAccepted[point.MessageID] = true
		batch.Accepted++
		if point.TS.After(result.NewestAcceptedTS) {
			result.NewestAcceptedTS = point.TS
		}
	}
	for _, point := range quarantined {
		s.quarantined = append(s.quarantined, point)
		result.StoredQuarantined[point.MessageID] = true
		batch.Quarantined++
	}
	s.batches = append(s.batches, *batch)
	return result, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.TelemetryAccepted
}

func (p *capturePublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if evt, ok := event.(events.TelemetryAccepted); ok {
		p.events = append(p.events, evt)
	}
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testRegistry(t *testing.T) *contract.Registry {
	t.Helper()
	registry, err := contract.NewRegistry(contract.Schema{
		Version: 2,
		Fields: map[string]contract.FieldSpec{
			"battery_pct":   {Type: contract.TypeNumber, Unit: "%"},
			"temperature_c": {Type: contract.TypeNumber, Unit: "C"},
			"pump_running":  {Type: contract.TypeBool},
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry
}

func newTestPipeline(t *testing.T, store *memStore, pub *capturePublisher, opts ...PipelineOption) *Pipeline {
	t.Helper()
	opts = append(opts, WithClock(fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}))
	pipeline, err := NewPipeline(store, testRegistry(t), pub, opts...)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipeline
}

func point(id, ts string, metrics map[string]any) PointInput {
	return PointInput{MessageID: id, TS: ts, Metrics: metrics}
}

func TestIngestStoresPointsAndRecordsBatch(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	pipeline := newTestPipeline(t, store, pub)

	result, err := pipeline.Ingest(context.Background(), "dev-1", Request{Points: []PointInput{
		point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 87.0}),
		point("m-2", "2025-06-01T11:59:00Z", map[string]any{"temperature_c": 21.5}),
	}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Accepted != 2 || result.Duplicates != 0 || result.Quarantined != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(store.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(store.batches))
	}
	batch := store.batches[0]
	if batch.ContractVersion != 2 || batch.ContractHash == "" {
		t.Fatalf("batch missing contract identity: %+v", batch)
	}
	if batch.Status != ingest.BatchCompleted || batch.Source != ingest.SourceDirect {
		t.Fatalf("unexpected batch receipt: %+v", batch)
	}
	if len(pub.events) != 1 || len(pub.events[0].Points) != 2 {
		t.Fatalf("expected one event with 2 points, got %+v", pub.events)
	}
}

func TestResubmissionConvergesOnDuplicates(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	pipeline := newTestPipeline(t, store, pub)

	req := Request{Points: []PointInput{
		point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 87.0}),
	}}
	if _, err := pipeline.Ingest(context.Background(), "dev-1", req); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	result, err := pipeline.Ingest(context.Background(), "dev-1", req)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if result.Accepted != 0 || result.Duplicates != 1 {
		t.Fatalf("expected pure duplicate, got %+v", result)
	}
	if len(store.points) != 1 {
		t.Fatalf("expected 1 stored point, got %d", len(store.points))
	}
	// Only the first call stored anything, so only the first call emits.
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
}

func TestParallelResubmissionStoresOnce(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	pipeline := newTestPipeline(t, store, pub)

	req := Request{Points: []PointInput{
		point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 87.0}),
	}}

	var wg sync.WaitGroup
	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := pipeline.Ingest(context.Background(), "dev-1", req)
			if err != nil {
				t.Errorf("ingest: %v", err)
				return
			}
			results <- *result
		}()
	}
	wg.Wait()
	close(results)

	var accepted, duplicates int
	for result := range results {
		accepted += result.Accepted
		duplicates += result.Duplicates
	}
	if accepted != 1 || duplicates != 1 {
		t.Fatalf("expected one acceptance and one duplicate, got accepted=%d duplicates=%d", accepted, duplicates)
	}
	if len(store.points) != 1 {
		t.Fatalf("expected 1 stored point, got %d", len(store.points))
	}
	// Only the call that stored the point publishes it.
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
}

func TestQuarantineModeShadowsMismatchedPoints(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	pipeline := newTestPipeline(t, store, pub)

	result, err := pipeline.Ingest(context.Background(), "dev-1", Request{Points: []PointInput{
		point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": "eighty"}),
		point("m-2", "2025-06-01T11:59:00Z", map[string]any{"battery_pct": 80.0}),
	}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Accepted != 1 || result.Quarantined != 1 || len(result.Rejected) != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(store.quarantined) != 1 || store.quarantined[0].MismatchKeys[0] != "battery_pct" {
		t.Fatalf("unexpected quarantine records: %+v", store.quarantined)
	}
	if got := store.batches[0].MismatchKeys; len(got) != 1 || got[0] != "battery_pct" {
		t.Fatalf("batch mismatch keys: %v", got)
	}
	// The quarantined point never reaches alert evaluation.
	if len(pub.events[0].Points) != 1 || pub.events[0].Points[0].MessageID != "m-2" {
		t.Fatalf("unexpected event points: %+v", pub.events[0].Points)
	}
}

func TestRejectModeNamesOffendingKeys(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	pipeline := newTestPipeline(t, store, pub, WithMismatchMode(ingest.ModeReject))

	result, err := pipeline.Ingest(context.Background(), "dev-1", Request{Points: []PointInput{
		point("m-1", "2025-06-01T11:58:00Z", map[string]any{"pump_running": "yes"}),
	}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Keys[0] != "pump_running" {
		t.Fatalf("unexpected rejection: %+v", result.Rejected)
	}
	if len(store.points) != 0 || len(store.quarantined) != 0 {
		t.Fatal("rejected point must not be stored")
	}
	if store.batches[0].Status != ingest.BatchPartial {
		t.Fatalf("expected partial batch, got %s", store.batches[0].Status)
	}
}

func TestUnknownKeysAcceptedAndReported(t *testing.T) {
	store := newMemStore()
	pipeline := newTestPipeline(t, store, &capturePublisher{})

	result, err := pipeline.Ingest(context.Background(), "dev-1", Request{Points: []PointInput{
		point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 80.0, "lux": 420.0}),
	}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Accepted != 1 {
		t.Fatalf("unknown key must not block acceptance: %+v", result)
	}
	if got := store.batches[0].UnknownKeys; len(got) != 1 || got[0] != "lux" {
		t.Fatalf("unknown keys not reported: %v", got)
	}
}

func TestNaiveTimestampTakenAsUTC(t *testing.T) {
	store := newMemStore()
	pipeline := newTestPipeline(t, store, &capturePublisher{})

	if _, err := pipeline.Ingest(context.Background(), "dev-1", Request{Points: []PointInput{
		point("m-1", "2025-06-01T11:58:00", map[string]any{"battery_pct": 80.0}),
	}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	stored := store.points["dev-1|m-1"]
	want := time.Date(2025, 6, 1, 11, 58, 0, 0, time.UTC)
	if !stored.TS.Equal(want) {
		t.Fatalf("expected %v, got %v", want, stored.TS)
	}
}

func TestEventPointsSortedByTimestamp(t *testing.T) {
	store := newMemStore()
	pub := &capturePublisher{}
	pipeline := newTestPipeline(t, store, pub)

	if _, err := pipeline.Ingest(context.Background(), "dev-1", Request{Points: []PointInput{
		point("m-2", "2025-06-01T11:59:00Z", map[string]any{"battery_pct": 26.0}),
		point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 18.0}),
	}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	points := pub.events[0].Points
	if points[0].MessageID != "m-1" || points[1].MessageID != "m-2" {
		t.Fatalf("points not in ascending ts order: %+v", points)
	}
}

func TestIngestValidation(t *testing.T) {
	pipeline := newTestPipeline(t, newMemStore(), &capturePublisher{})
	ctx := context.Background()

	cases := []struct {
		name     string
		deviceID string
		req      Request
	}{
		{"empty points", "dev-1", Request{}},
		{"missing message id", "dev-1", Request{Points: []PointInput{point("", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 1.0})}}},
		{"repeated message id", "dev-1", Request{Points: []PointInput{
			point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 1.0}),
			point("m-1", "2025-06-01T11:59:00Z", map[string]any{"battery_pct": 2.0}),
		}}},
		{"unknown source", "dev-1", Request{Source: "sideload", Points: []PointInput{point("m-1", "2025-06-01T11:58:00Z", map[string]any{"battery_pct": 1.0})}}},
		{"bad timestamp", "dev-1", Request{Points: []PointInput{point("m-1", "yesterday", map[string]any{"battery_pct": 1.0})}}},
	}
	for _, tc := range cases {
		if _, err := pipeline.Ingest(ctx, tc.deviceID, tc.req); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
