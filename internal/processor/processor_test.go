package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/halsaram/mission-pipeline/internal/capture"
	"github.com/halsaram/mission-pipeline/internal/geofence"
	"github.com/halsaram/mission-pipeline/internal/mission"
	"github.com/halsaram/mission-pipeline/internal/progress"
	"github.com/halsaram/mission-pipeline/internal/prompt"
	"github.com/halsaram/mission-pipeline/internal/s3util"
	"github.com/halsaram/mission-pipeline/internal/verdict"
)

// A 4x4 degree square around the origin stands in for the district boundary.
const boundaryDoc = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"properties": {"name": "Songpa-gu"},
		"geometry": {"type": "Polygon", "coordinates": [[[0,0],[4,0],[4,4],[0,4],[0,0]]]}
	}]
}`

const (
	windowStart    = int64(1_700_000_000)
	windowDeadline = windowStart + 86400
)

type fakeFetcher struct {
	objects map[string]*s3util.Object
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, bucket, key string) (*s3util.Object, error) {
	id := bucket + "/" + key
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	obj := f.objects[id]
	if obj == nil {
		return nil, fmt.Errorf("no such object %s", id)
	}
	return obj, nil
}

type fakeCatalog map[string]*mission.Mission

func (f fakeCatalog) GetMission(_ context.Context, id string) (*mission.Mission, error) {
	return f[id], nil
}

type fakeVerdicts struct {
	v          verdict.Verdict
	err        error
	calls      int
	lastPrompt string
}

func (f *fakeVerdicts) Judge(_ context.Context, _, prompt string, _ []byte, _ string) (verdict.Verdict, error) {
	f.calls++
	f.lastPrompt = prompt
	if f.err != nil {
		return verdict.Verdict{}, f.err
	}
	return f.v, nil
}

type staticPrompts struct{ cfg *prompt.Config }

func (s staticPrompts) Config(context.Context) *prompt.Config { return s.cfg }

func insideCapture() capture.Capture {
	return capture.Capture{Lat: 2, Lon: 2, HasGPS: true, TakenAt: time.Unix(windowStart, 0), HasTime: true}
}

func photoObject(bucket, key, missionID, userID string, step int) *s3util.Object {
	return &s3util.Object{
		Bucket:      bucket,
		Key:         key,
		Data:        []byte("jpeg bytes"),
		ContentType: "image/jpeg",
		Metadata: map[string]string{
			"missionid":  missionID,
			"userid":     userID,
			"stepindex":  fmt.Sprintf("%d", step),
			"startts":    fmt.Sprintf("%d", windowStart),
			"deadlinets": fmt.Sprintf("%d", windowDeadline),
		},
		LastModified: time.Unix(windowStart+3600, 0),
	}
}

type fixture struct {
	proc     *Processor
	store    *progress.MemoryStore
	fetcher  *fakeFetcher
	verdicts *fakeVerdicts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := progress.NewMemoryStore()
	fetcher := &fakeFetcher{objects: map[string]*s3util.Object{}, errs: map[string]error{}}
	verdicts := &fakeVerdicts{v: verdict.Verdict{Match: true, Confidence: 0.9, Reasons: "clearly shown"}}
	catalog := fakeCatalog{
		"m-1": {ID: "m-1", Name: "Songpa food tour", Steps: []string{"eat naengmyeon", "visit Seokchon lake"}, Difficulty: 2, Participants: 3},
	}

	cache := geofence.NewCache("Songpa-gu", func(context.Context) ([]byte, error) {
		return []byte(boundaryDoc), nil
	})

	proc := &Processor{
		Objects:        fetcher,
		Missions:       catalog,
		Progress:       store,
		Prompts:        staticPrompts{cfg: prompt.Fallback()},
		Verdicts:       verdicts,
		Boundary:       cache,
		Clock:          func() time.Time { return time.Unix(windowStart+3600, 0) },
		ExtractCapture: func([]byte) capture.Capture { return insideCapture() },
	}
	return &fixture{proc: proc, store: store, fetcher: fetcher, verdicts: verdicts}
}

func (f *fixture) addPhoto(key, missionID, userID string, step int) Record {
	obj := photoObject("photos", key, missionID, userID, step)
	f.fetcher.objects["photos/"+key] = obj
	return Record{Bucket: "photos", Key: key}
}

func completionMarkers(store *progress.MemoryStore) int {
	n := 0
	for _, e := range store.Logs() {
		if e.Status == progress.StatusCompleted {
			n++
		}
	}
	return n
}

func TestProcessBatch_ApprovesAndCompletes(t *testing.T) {
	f := newFixture(t)
	recs := []Record{
		f.addPhoto("a.jpg", "m-1", "u-1", 0),
		f.addPhoto("b.jpg", "m-1", "u-1", 1),
	}

	summary, err := f.proc.ProcessBatch(context.Background(), recs)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	for _, res := range summary.Results {
		if res.Status != progress.StatusApproved {
			t.Errorf("record %s: status %q reason %q error %q", res.Key, res.Status, res.Reason, res.Error)
		}
	}
	if !strings.Contains(f.verdicts.lastPrompt, "visit Seokchon lake") {
		t.Errorf("prompt should carry the step text, got:\n%s", f.verdicts.lastPrompt)
	}

	agg, err := f.store.GetAggregate(context.Background(), "m-1", "u-1")
	if err != nil || agg == nil {
		t.Fatalf("aggregate missing: %v", err)
	}
	if agg.ApprovedCount != 2 || !agg.Complete() {
		t.Errorf("aggregate after both steps: %+v", agg)
	}
	if got := completionMarkers(f.store); got != 1 {
		t.Errorf("completion markers = %d, want 1", got)
	}
}

func TestProcessBatch_RedeliveryStaysIdempotent(t *testing.T) {
	f := newFixture(t)
	recs := []Record{
		f.addPhoto("a.jpg", "m-1", "u-1", 0),
		f.addPhoto("b.jpg", "m-1", "u-1", 1),
	}

	for i := 0; i < 2; i++ {
		if _, err := f.proc.ProcessBatch(context.Background(), recs); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}

	agg, _ := f.store.GetAggregate(context.Background(), "m-1", "u-1")
	if agg.ApprovedCount != 2 {
		t.Errorf("redelivered batch inflated the count: %+v", agg)
	}
	if got := completionMarkers(f.store); got != 1 {
		t.Errorf("completion markers after redelivery = %d, want 1", got)
	}
}

func TestProcessBatch_CompletionAcrossBatches(t *testing.T) {
	f := newFixture(t)

	if _, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-1", "u-1", 0)}); err != nil {
		t.Fatal(err)
	}
	if got := completionMarkers(f.store); got != 0 {
		t.Fatalf("premature completion after one of two steps")
	}

	if _, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("b.jpg", "m-1", "u-1", 1)}); err != nil {
		t.Fatal(err)
	}
	if got := completionMarkers(f.store); got != 1 {
		t.Errorf("completion markers = %d, want 1 after final step", got)
	}
}

func TestProcessBatch_NoGPSRejected(t *testing.T) {
	f := newFixture(t)
	f.proc.ExtractCapture = func([]byte) capture.Capture { return capture.Capture{} }

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-1", "u-1", 0)})
	if err != nil {
		t.Fatal(err)
	}
	res := summary.Results[0]
	if res.Status != progress.StatusRejected || !strings.Contains(res.Reason, "no GPS") {
		t.Errorf("result = %+v", res)
	}
	if res.OK {
		t.Error("validation rejection must report ok=false")
	}
	if f.verdicts.calls != 0 {
		t.Error("rejected photo must not reach the vision model")
	}
	if agg, _ := f.store.GetAggregate(context.Background(), "m-1", "u-1"); agg != nil {
		t.Errorf("rejection must not touch the aggregate: %+v", agg)
	}
}

func TestProcessBatch_OutsideBoundaryRejected(t *testing.T) {
	f := newFixture(t)
	f.proc.ExtractCapture = func([]byte) capture.Capture {
		return capture.Capture{Lat: 10, Lon: 10, HasGPS: true}
	}

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-1", "u-1", 0)})
	if err != nil {
		t.Fatal(err)
	}
	res := summary.Results[0]
	if res.Status != progress.StatusRejected || !strings.Contains(res.Reason, "Songpa-gu") {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessBatch_TimeWindowBoundsInclusive(t *testing.T) {
	tests := []struct {
		name     string
		uploaded int64
		want     string
	}{
		{"exact start", windowStart, progress.StatusApproved},
		{"exact deadline", windowDeadline, progress.StatusApproved},
		{"second before start", windowStart - 1, progress.StatusRejected},
		{"second after deadline", windowDeadline + 1, progress.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.addPhoto("a.jpg", "m-1", "u-1", 0)
			f.fetcher.objects["photos/a.jpg"].LastModified = time.Unix(tt.uploaded, 0)

			summary, err := f.proc.ProcessBatch(context.Background(), []Record{rec})
			if err != nil {
				t.Fatal(err)
			}
			if got := summary.Results[0].Status; got != tt.want {
				t.Errorf("status = %q, want %q (reason %q)", got, tt.want, summary.Results[0].Reason)
			}
		})
	}
}

func TestProcessBatch_MissingWindowRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.addPhoto("a.jpg", "m-1", "u-1", 0)
	meta := f.fetcher.objects["photos/a.jpg"].Metadata
	delete(meta, "startts")

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{rec})
	if err != nil {
		t.Fatal(err)
	}
	res := summary.Results[0]
	if res.Status != progress.StatusRejected || !strings.Contains(res.Reason, "time window") {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessBatch_UnknownMissionRejected(t *testing.T) {
	f := newFixture(t)
	summary, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-404", "u-1", 0)})
	if err != nil {
		t.Fatal(err)
	}
	res := summary.Results[0]
	if res.Status != progress.StatusRejected || !strings.Contains(res.Reason, "not live") {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessBatch_UnresolvedIdentityRejected(t *testing.T) {
	f := newFixture(t)
	f.fetcher.objects["photos/loose.jpg"] = &s3util.Object{
		Bucket:       "photos",
		Key:          "loose.jpg",
		Data:         []byte("jpeg bytes"),
		Metadata:     map[string]string{"startts": "1", "deadlinets": "2"},
		LastModified: time.Unix(1, 0),
	}

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{{Bucket: "photos", Key: "loose.jpg"}})
	if err != nil {
		t.Fatal(err)
	}
	res := summary.Results[0]
	if res.Status != progress.StatusRejected || !strings.Contains(res.Reason, "could not be resolved") {
		t.Errorf("result = %+v", res)
	}

	logs := f.store.Logs()
	if len(logs) != 1 || logs[0].MissionID != "UNKNOWN" || logs[0].UserID != "UNKNOWN" {
		t.Errorf("unresolved rejection should log under placeholder ids: %+v", logs)
	}
}

func TestProcessBatch_FetchFailureIsolated(t *testing.T) {
	f := newFixture(t)
	good := f.addPhoto("good.jpg", "m-1", "u-1", 0)
	f.fetcher.errs["photos/bad.jpg"] = errors.New("access denied")

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{
		{Bucket: "photos", Key: "bad.jpg"},
		good,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Results[0].Error == "" || summary.Results[0].OK {
		t.Errorf("failed fetch should surface as a record error: %+v", summary.Results[0])
	}
	if summary.Results[1].Status != progress.StatusApproved {
		t.Errorf("later record should still process: %+v", summary.Results[1])
	}
}

func TestProcessBatch_ModelFailureRejects(t *testing.T) {
	f := newFixture(t)
	f.verdicts.err = errors.New("deadline exceeded")

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-1", "u-1", 0)})
	if err != nil {
		t.Fatal(err)
	}
	res := summary.Results[0]
	if res.Status != progress.StatusRejected || !strings.Contains(res.Reason, "model invocation failed") {
		t.Errorf("result = %+v", res)
	}
	if agg, _ := f.store.GetAggregate(context.Background(), "m-1", "u-1"); agg != nil {
		t.Errorf("model failure must not approve a step: %+v", agg)
	}
}

func TestProcessBatch_LowConfidenceRejects(t *testing.T) {
	f := newFixture(t)
	f.verdicts.v = verdict.Verdict{Match: true, Confidence: 0.4, Reasons: "hard to tell"}

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-1", "u-1", 0)})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Results[0].Status != progress.StatusRejected {
		t.Errorf("confidence under threshold must reject: %+v", summary.Results[0])
	}
}

func TestProcessBatch_BoundaryFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.proc.Boundary = geofence.NewCache("Songpa-gu", func(context.Context) ([]byte, error) {
		return nil, errors.New("bucket unreachable")
	})

	if _, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-1", "u-1", 0)}); err == nil {
		t.Fatal("batch must fail when the boundary cannot be loaded")
	}
}

func TestProcessBatch_GeofenceCheckedBeforeMission(t *testing.T) {
	// A photo failing both the geofence and the mission lookup must carry
	// the geofence reason: local evidence checks run before the catalog read.
	f := newFixture(t)
	f.proc.ExtractCapture = func([]byte) capture.Capture { return capture.Capture{} }

	summary, err := f.proc.ProcessBatch(context.Background(), []Record{f.addPhoto("a.jpg", "m-404", "u-1", 0)})
	if err != nil {
		t.Fatal(err)
	}
	res := summary.Results[0]
	if !strings.Contains(res.Reason, "no GPS") {
		t.Errorf("expected the geofence reason, got %q", res.Reason)
	}
	if strings.Contains(res.Reason, "not live") {
		t.Errorf("mission lookup ran before the geofence check: %q", res.Reason)
	}
}

func TestRecordResult_OKSerialized(t *testing.T) {
	f := newFixture(t)
	f.fetcher.errs["photos/bad.jpg"] = errors.New("access denied")
	recs := []Record{
		f.addPhoto("good.jpg", "m-1", "u-1", 0),
		{Bucket: "photos", Key: "bad.jpg"},
	}

	summary, err := f.proc.ProcessBatch(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Results[0].OK {
		t.Errorf("judged record must report ok=true: %+v", summary.Results[0])
	}

	body, err := json.Marshal(summary)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"ok":true`) || !strings.Contains(string(body), `"ok":false`) {
		t.Errorf("ok flag missing from serialized results:\n%s", body)
	}
}

// readFailStore simulates a progress table whose consistent reads throttle:
// writes go through, GetAggregate always fails.
type readFailStore struct {
	*progress.MemoryStore
}

func (s *readFailStore) GetAggregate(context.Context, string, string) (*progress.Aggregate, error) {
	return nil, errors.New("throttled")
}

func TestProcessBatch_InlineCompletionSurvivesReadFailure(t *testing.T) {
	f := newFixture(t)
	f.proc.Progress = &readFailStore{MemoryStore: f.store}
	recs := []Record{
		f.addPhoto("a.jpg", "m-1", "u-1", 0),
		f.addPhoto("b.jpg", "m-1", "u-1", 1),
	}

	if _, err := f.proc.ProcessBatch(context.Background(), recs); err != nil {
		t.Fatal(err)
	}
	if got := completionMarkers(f.store); got != 1 {
		t.Errorf("completion markers = %d, want 1 from the inline attempt", got)
	}
}

func TestStaleCaptureWarning(t *testing.T) {
	start := time.Unix(windowStart, 0)

	old := capture.Capture{HasTime: true, TakenAt: start.Add(-13 * time.Hour)}
	if staleCaptureWarning(old, nil, windowStart) == "" {
		t.Error("capture 13h before start should warn")
	}

	recent := capture.Capture{HasTime: true, TakenAt: start.Add(-1 * time.Hour)}
	if w := staleCaptureWarning(recent, nil, windowStart); w != "" {
		t.Errorf("capture 1h before start should not warn: %q", w)
	}

	meta := map[string]string{"datetimeoriginal": start.Add(-14 * time.Hour).UTC().Format("2006:01:02 15:04:05")}
	if staleCaptureWarning(capture.Capture{}, meta, windowStart) == "" {
		t.Error("metadata capture time should back the warning when EXIF is absent")
	}

	if w := staleCaptureWarning(capture.Capture{}, nil, windowStart); w != "" {
		t.Errorf("no capture time at all should not warn: %q", w)
	}
}
