package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/pipehost/pkg/api"
)

// testRun returns a run created at a fixed offset so ordering is stable.
func testRun(id, pipeline string, offset time.Duration) *api.PipelineRun {
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
	return &api.PipelineRun{
		RunID:          id,
		PipelineName:   pipeline,
		Status:         api.RunStatusNotStarted,
		SolidSelection: []string{"load"},
		RunConfig:      map[string]any{"solids": map[string]any{"load": map[string]any{"config": "x"}}},
		Tags:           map[string]string{"team": "data"},
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

// testRunStore checks the behavior every RunStore must share.
func testRunStore(t *testing.T, store RunStore) {
	t.Helper()
	ctx := context.Background()

	run := testRun("run-1", "etl", 0)
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.SaveRun(ctx, testRun("run-2", "etl", time.Second)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.SaveRun(ctx, testRun("run-3", "report", 2*time.Second)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.PipelineName != "etl" || got.Status != api.RunStatusNotStarted {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.Tags["team"] != "data" || len(got.SolidSelection) != 1 || got.SolidSelection[0] != "load" {
		t.Fatalf("run body not restored: %+v", got)
	}
	if _, ok := got.RunConfig["solids"].(map[string]any); !ok {
		t.Fatalf("run config not restored: %#v", got.RunConfig)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Fatalf("CreatedAt=%v, want %v", got.CreatedAt, run.CreatedAt)
	}

	got.Status = api.RunStatusSuccess
	got.UpdatedAt = got.CreatedAt.Add(time.Minute)
	if err := store.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	again, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if again.Status != api.RunStatusSuccess {
		t.Fatalf("expected SUCCESS, got %q", again.Status)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, api.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.UpdateRun(ctx, testRun("missing", "etl", 0)); !errors.Is(err, api.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound on update, got %v", err)
	}

	all, err := store.ListRuns(ctx, api.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "run-1" || all[2].RunID != "run-3" {
		t.Fatalf("unexpected runs: %v", runIDs(all))
	}

	etl, err := store.ListRuns(ctx, api.RunFilter{PipelineName: "etl"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(etl) != 2 {
		t.Fatalf("expected 2 etl runs, got %v", runIDs(etl))
	}

	done, err := store.ListRuns(ctx, api.RunFilter{PipelineName: "etl", Status: api.RunStatusSuccess})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(done) != 1 || done[0].RunID != "run-1" {
		t.Fatalf("expected only run-1, got %v", runIDs(done))
	}

	pending, err := store.ListRuns(ctx, api.RunFilter{Status: api.RunStatusNotStarted})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending runs, got %v", runIDs(pending))
	}
}

// testEventStore checks the behavior every EventStore must share.
func testEventStore(t *testing.T, store EventStore) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, msg := range []string{"first", "second", "third"} {
		ev := &api.EngineEvent{
			EventID: msg,
			RunID:   "run-ev",
			Type:    api.EventEngine,
			Message: msg,
			At:      at.Add(time.Duration(i) * time.Millisecond),
		}
		if i == 2 {
			ev.Data = api.EngineErrorData(&api.SerializableErrorInfo{ClsName: "Error", Message: "boom"})
		}
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	if err := store.AppendEvent(ctx, &api.EngineEvent{RunID: "other", Message: "x", At: at}); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := store.ListEvents(ctx, "run-ev")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"first", "second", "third"} {
		if events[i].Message != want {
			t.Fatalf("event %d = %q, want %q", i, events[i].Message, want)
		}
	}
	if !events[2].IsFailure() || events[2].Data.Error.Message != "boom" {
		t.Fatalf("error payload not restored: %+v", events[2].Data)
	}
	if !events[1].At.Equal(at.Add(time.Millisecond)) {
		t.Fatalf("timestamp lost precision: %v", events[1].At)
	}

	none, err := store.ListEvents(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events, got %d", len(none))
	}
}

func runIDs(runs []*api.PipelineRun) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	return ids
}
