package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	steplog "voxelgrid.ai/internal/persistence/log"
	"voxelgrid.ai/internal/sim/scheduler"
	"voxelgrid.ai/internal/sim/tuning"
	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep}

	s.WriteStep(steplog.StepEntry{Step: 2})
	s.RecordChunkEvent(ChunkEvent{Step: 2, Kind: EventGenerated})

	st := s.Stats()
	if st.DropStepTotal != 1 || st.DropEventTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_StepsAndEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	cat, err := voxel.NewCatalog([]voxel.Def{{ID: 0, Name: "EMPTY", Physics: "NONE"}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if err := idx.UpsertCatalogs(cat, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}

	key := coords.ChunkKey{X: 1, Y: -2, Z: 3}
	for step := uint64(1); step <= 3; step++ {
		e := steplog.StepEntry{Step: step, DurationUs: 250}
		e.Sched = scheduler.StepStats{Strategy: scheduler.TimeSliced, Ticked: int(step), Moves: 10 * int(step)}
		e.World.Loaded = 27
		idx.WriteStep(e)
	}
	idx.RecordChunkEvent(ChunkEvent{Step: 1, Kind: EventGenerationFailed, Key: key, Detail: "generator down"})
	idx.RecordChunkEvent(ChunkEvent{Step: 2, Kind: EventGenerated, Key: key})
	idx.RecordChunkEvent(ChunkEvent{Step: 2, Kind: EventActivated, Key: key})
	idx.RecordChunkEvent(ChunkEvent{Step: 2, Kind: EventActivated, Key: coords.ChunkKey{}})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	steps, err := r.RecentSteps(ctx, 2)
	if err != nil {
		t.Fatalf("RecentSteps: %v", err)
	}
	if len(steps) != 2 || steps[0].Step != 3 || steps[0].Moves != 30 || steps[1].Ticked != 2 {
		t.Fatalf("steps %+v", steps)
	}
	if steps[0].Strategy != string(scheduler.TimeSliced) || steps[0].Loaded != 27 || steps[0].DurationUs != 250 {
		t.Fatalf("step row %+v", steps[0])
	}

	hist, err := r.ChunkHistory(ctx, key, 0)
	if err != nil {
		t.Fatalf("ChunkHistory: %v", err)
	}
	if len(hist) != 3 || hist[0].Kind != EventGenerationFailed || hist[0].Detail != "generator down" || hist[2].Kind != EventActivated {
		t.Fatalf("history %+v", hist)
	}

	counts, err := r.EventCounts(ctx)
	if err != nil {
		t.Fatalf("EventCounts: %v", err)
	}
	if counts[EventActivated] != 2 || counts[EventGenerated] != 1 {
		t.Fatalf("counts %v", counts)
	}
}
