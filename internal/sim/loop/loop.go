package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/observerproto"
	"voxelgrid.ai/internal/persistence/indexdb"
	steplog "voxelgrid.ai/internal/persistence/log"
	"voxelgrid.ai/internal/sim/mesh"
	"voxelgrid.ai/internal/sim/scheduler"
	"voxelgrid.ai/internal/sim/world"
	"voxelgrid.ai/internal/sim/world/coords"
	"voxelgrid.ai/internal/sim/world/logic/mathx"
)

// Publisher receives the summary of every finished step.
type Publisher interface {
	Publish(tick observerproto.TickMsg)
}

// ReferenceSource supplies a moving reference point, e.g. the last observer
// position. ok=false keeps the previous reference.
type ReferenceSource interface {
	Reference() (mgl32.Vec3, bool)
}

type StepWriter interface {
	WriteStep(e steplog.StepEntry) error
}

type Index interface {
	WriteStep(e steplog.StepEntry)
	RecordChunkEvent(e indexdb.ChunkEvent)
}

type Config struct {
	TickRateHz     int
	RenderDistance int
	MeshesPerStep  int

	// Reference is used until Follow reports a position.
	Reference mgl32.Vec3

	Now func() time.Time
}

// Options carries the optional collaborators. Nil fields are skipped.
type Options struct {
	Mesher    mesh.Mesher
	Publisher Publisher
	Follow    ReferenceSource
	Steps     StepWriter
	Index     Index
	Logger    *log.Logger
}

// Metrics is a point-in-time view safe to read from any goroutine.
type Metrics struct {
	Step           uint64
	Strategy       scheduler.Strategy
	LastDurationUs int64
	Overruns       uint64
	Reference      mgl32.Vec3

	World world.Stats

	GeneratedTotal     uint64
	GenFailedTotal     uint64
	MovesTotal         uint64
	CrossChunkTotal    uint64
	DiscardedTotal     uint64
	MeshBuiltTotal     uint64
	MeshFailedTotal    uint64
	StepLogErrorsTotal uint64
}

type strategyReq struct {
	st   scheduler.Strategy
	resp chan error
}

// Loop runs the main simulation step. Step and Run must not be used
// concurrently; SetStrategy may be called from any goroutine while Run is
// active.
type Loop struct {
	cfg   Config
	world *world.World
	sched *scheduler.Scheduler
	opts  Options

	step uint64
	ref  mgl32.Vec3

	totals   Metrics
	metrics  atomic.Pointer[Metrics]
	strategy chan strategyReq
}

func New(cfg Config, w *world.World, sched *scheduler.Scheduler, opts Options) (*Loop, error) {
	if w == nil || sched == nil {
		return nil, errors.New("loop: nil world or scheduler")
	}
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("loop: tick rate must be > 0, got %d", cfg.TickRateHz)
	}
	if cfg.RenderDistance < 0 {
		return nil, fmt.Errorf("loop: negative render distance %d", cfg.RenderDistance)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if opts.Mesher == nil {
		opts.Mesher = mesh.Culled{}
	}
	l := &Loop{
		cfg:      cfg,
		world:    w,
		sched:    sched,
		opts:     opts,
		ref:      cfg.Reference,
		strategy: make(chan strategyReq),
	}
	l.metrics.Store(&Metrics{Strategy: sched.Strategy(), Reference: cfg.Reference})
	return l, nil
}

func (l *Loop) Metrics() Metrics { return *l.metrics.Load() }

func (l *Loop) CurrentStep() uint64 { return l.step }

// Run steps at TickRateHz until ctx is done, then waits for in-flight chunk
// ticks.
func (l *Loop) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(l.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer l.sched.Drain()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-l.strategy:
			req.resp <- l.sched.SetStrategy(req.st)
		case <-ticker.C:
			l.Step()
		}
	}
}

// SetStrategy hands the switch to the Run goroutine and waits for it.
func (l *Loop) SetStrategy(ctx context.Context, st scheduler.Strategy) error {
	if _, err := scheduler.ParseStrategy(string(st)); err != nil {
		return err
	}
	resp := make(chan error, 1)
	select {
	case l.strategy <- strategyReq{st: st, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step runs one main step: stream chunks around the reference, tick the
// working set, rebuild meshes, then report.
func (l *Loop) Step() steplog.StepEntry {
	start := l.cfg.Now()
	l.step++
	step := l.step

	if l.opts.Follow != nil {
		if p, ok := l.opts.Follow.Reference(); ok {
			l.ref = p
		}
	}
	ref := l.ref

	inRange := l.world.ChunksInRange(ref, l.cfg.RenderDistance)
	nearestFirst(inRange, l.world.Space().ChunkKeyFromWorld(ref))
	evicted := l.world.EvictOutOfRange(inRange)
	loaded := l.world.EnsureLoaded(inRange)
	l.recordStream(step, evicted)
	l.recordStream(step, loaded)

	sched := l.sched.Step(ref)
	meshes := l.world.RebuildMeshes(l.opts.Mesher, l.cfg.MeshesPerStep)
	for _, f := range meshes.Failed {
		l.logf("mesh %s: %v", f.Key, f.Err)
	}

	e := steplog.StepEntry{
		Step:       step,
		TimeUnixMs: start.UnixMilli(),
		DurationUs: l.cfg.Now().Sub(start).Microseconds(),
		Reference:  [3]float32{ref.X(), ref.Y(), ref.Z()},
		Stream: steplog.StreamSummary{
			Generated:   len(loaded.Generated),
			Failed:      len(loaded.Failed),
			Activated:   len(loaded.Activated),
			Deferred:    len(loaded.Deferred),
			Deactivated: len(evicted.Deactivated),
			Pending:     loaded.Pending,
		},
		Sched: sched,
		Meshes: steplog.MeshSummary{
			Built:     len(meshes.Built),
			Failed:    len(meshes.Failed),
			Remaining: meshes.Remaining,
		},
		World: l.world.Stats(),
	}

	if l.opts.Publisher != nil {
		l.opts.Publisher.Publish(observerproto.TickMsg{
			Step:            step,
			Strategy:        string(sched.Strategy),
			Reference:       e.Reference,
			DurationUs:      e.DurationUs,
			Loaded:          e.World.Loaded,
			Awake:           e.World.Awake,
			Ticked:          sched.Ticked,
			Dispatched:      sched.Dispatched,
			Moves:           sched.Moves,
			CrossChunkMoves: sched.CrossChunkMoves,
			Generated:       e.Stream.Generated,
		})
	}
	if l.opts.Steps != nil {
		if err := l.opts.Steps.WriteStep(e); err != nil {
			l.totals.StepLogErrorsTotal++
			l.logf("step log: %v", err)
		}
	}
	if l.opts.Index != nil {
		l.opts.Index.WriteStep(e)
	}
	interval := time.Second / time.Duration(l.cfg.TickRateHz)
	if d := time.Duration(e.DurationUs) * time.Microsecond; d > interval {
		l.totals.Overruns++
		l.logf("step %d took %s (interval %s)", step, d, interval)
	}
	l.updateMetrics(e)
	return e
}

func (l *Loop) recordStream(step uint64, rep world.StreamReport) {
	for _, f := range rep.Failed {
		l.logf("generate %s: %v", f.Key, f.Err)
	}
	if l.opts.Index == nil {
		return
	}
	emit := func(kind string, keys []coords.ChunkKey) {
		for _, k := range keys {
			l.opts.Index.RecordChunkEvent(indexdb.ChunkEvent{Step: step, Kind: kind, Key: k})
		}
	}
	emit(indexdb.EventDeactivated, rep.Deactivated)
	emit(indexdb.EventGenerated, rep.Generated)
	for _, f := range rep.Failed {
		l.opts.Index.RecordChunkEvent(indexdb.ChunkEvent{Step: step, Kind: indexdb.EventGenerationFailed, Key: f.Key, Detail: f.Err.Error()})
	}
	emit(indexdb.EventActivated, rep.Activated)
	emit(indexdb.EventDeferred, rep.Deferred)
}

func (l *Loop) updateMetrics(e steplog.StepEntry) {
	t := &l.totals
	t.GeneratedTotal += uint64(e.Stream.Generated)
	t.GenFailedTotal += uint64(e.Stream.Failed)
	t.MovesTotal += uint64(e.Sched.Moves)
	t.CrossChunkTotal += uint64(e.Sched.CrossChunkMoves)
	t.DiscardedTotal += uint64(e.Sched.Discarded)
	t.MeshBuiltTotal += uint64(e.Meshes.Built)
	t.MeshFailedTotal += uint64(e.Meshes.Failed)

	m := *t
	m.Step = e.Step
	m.Strategy = e.Sched.Strategy
	m.LastDurationUs = e.DurationUs
	m.Reference = mgl32.Vec3{e.Reference[0], e.Reference[1], e.Reference[2]}
	m.World = e.World
	l.metrics.Store(&m)
}

func (l *Loop) logf(format string, args ...any) {
	if l.opts.Logger != nil {
		l.opts.Logger.Printf(format, args...)
	}
}

// nearestFirst orders keys by Chebyshev distance to center, keeping the
// input order among equals so generation budget goes to the closest chunks.
func nearestFirst(keys []coords.ChunkKey, center coords.ChunkKey) {
	dist := func(k coords.ChunkKey) int {
		return max(mathx.AbsInt(k.X-center.X), mathx.AbsInt(k.Y-center.Y), mathx.AbsInt(k.Z-center.Z))
	}
	sort.SliceStable(keys, func(i, j int) bool { return dist(keys[i]) < dist(keys[j]) })
}
