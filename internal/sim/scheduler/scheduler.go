package scheduler

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/world"
	"voxelgrid.ai/internal/sim/world/coords"
)

type Strategy string

const (
	TimeSliced   Strategy = "time_sliced"
	TaskOffload  Strategy = "task_offload"
	DataParallel Strategy = "data_parallel"
	None         Strategy = "none"
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case TimeSliced, TaskOffload, DataParallel, None:
		return st, nil
	case "":
		return TimeSliced, nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

type Config struct {
	Strategy Strategy

	// Radius is the simulation distance in chunks around the reference.
	Radius int

	// ChunksPerStep bounds ticks (time_sliced) or dispatches (task_offload)
	// per Step. data_parallel dispatches the whole working set.
	ChunksPerStep int

	Workers int
}

type StepStats struct {
	Strategy   Strategy `json:"strategy"`
	WorkingSet int      `json:"working_set"`
	Parity     int      `json:"parity"`
	Slice      int      `json:"slice"`
	SweepDone  bool     `json:"sweep_done"`

	Ticked     int `json:"ticked"`
	Dispatched int `json:"dispatched"`
	Busy       int `json:"busy"`
	Asleep     int `json:"asleep"`
	Missing    int `json:"missing"`

	// Results harvested this step. For the async strategies they may come
	// from jobs dispatched on earlier steps.
	Completed       int   `json:"completed"`
	Moves           int   `json:"moves"`
	CrossChunkMoves int   `json:"cross_chunk_moves"`
	Discarded       int   `json:"discarded"`
	InFlight        int64 `json:"in_flight"`
}

// Scheduler picks which chunks tick each main step. Step, SetStrategy and
// Close must be called from one goroutine; worker results are handed back
// through an internal queue.
type Scheduler struct {
	cfg  Config
	w    *world.World
	pool pond.Pool

	strategy Strategy

	// Working set split into y slices, lowest first.
	slices   [][]coords.ChunkKey
	size     int
	sliceIdx int
	idx      int
	parity   int

	wg       sync.WaitGroup
	inFlight atomic.Int64
	doneMu   sync.Mutex
	done     []world.TickResult
}

func New(cfg Config, w *world.World) (*Scheduler, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = TimeSliced
	}
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	if cfg.Radius < 0 {
		return nil, fmt.Errorf("scheduler: negative radius %d", cfg.Radius)
	}
	if cfg.ChunksPerStep <= 0 {
		cfg.ChunksPerStep = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{
		cfg:      cfg,
		w:        w,
		pool:     pond.NewPool(cfg.Workers),
		strategy: cfg.Strategy,
	}, nil
}

func (s *Scheduler) Strategy() Strategy { return s.strategy }

// SetStrategy switches modes and forgets the sweep cursor. Jobs already
// dispatched keep running and are harvested by later steps.
func (s *Scheduler) SetStrategy(st Strategy) error {
	if _, err := ParseStrategy(string(st)); err != nil {
		return err
	}
	s.strategy = st
	s.resetCursor()
	return nil
}

func (s *Scheduler) resetCursor() {
	s.slices = nil
	s.size = 0
	s.sliceIdx = 0
	s.idx = 0
	s.parity = 0
}

func (s *Scheduler) Step(ref mgl32.Vec3) StepStats {
	st := StepStats{Strategy: s.strategy}
	switch s.strategy {
	case TimeSliced:
		s.sweep(ref, &st, s.runInline)
	case TaskOffload:
		s.sweep(ref, &st, s.dispatch)
	case DataParallel:
		s.parallel(ref, &st)
	}
	s.harvest(&st)
	st.InFlight = s.inFlight.Load()
	return st
}

// Drain blocks until every dispatched job has finished. Their results are
// reported by the next Step.
func (s *Scheduler) Drain() { s.wg.Wait() }

func (s *Scheduler) Close() {
	s.wg.Wait()
	s.pool.StopAndWait()
}

// sweep walks the working set slice by slice, running only chunks of the
// current parity, until the per-step budget is spent or the sweep ends. At
// the end of a sweep the parity flips and the working set is rebuilt on the
// next call.
func (s *Scheduler) sweep(ref mgl32.Vec3, st *StepStats, tick func(coords.ChunkKey, *StepStats) bool) {
	if s.slices == nil {
		s.rebuild(ref)
	}
	budget := s.cfg.ChunksPerStep
	for budget > 0 && s.sliceIdx < len(s.slices) {
		slice := s.slices[s.sliceIdx]
		if s.idx >= len(slice) {
			s.sliceIdx++
			s.idx = 0
			continue
		}
		key := slice[s.idx]
		s.idx++
		if key.Parity() != s.parity {
			continue
		}
		if tick(key, st) {
			budget--
		}
	}
	st.WorkingSet = s.size
	st.Parity = s.parity
	st.Slice = s.sliceIdx
	if s.sliceIdx >= len(s.slices) {
		st.SweepDone = true
		s.parity ^= 1
		s.slices = nil
	}
}

func (s *Scheduler) rebuild(ref mgl32.Vec3) {
	keys := s.w.ChunksInRange(ref, s.cfg.Radius)
	s.slices = s.slices[:0]
	for _, k := range keys {
		n := len(s.slices)
		if n == 0 || s.slices[n-1][0].Y != k.Y {
			s.slices = append(s.slices, []coords.ChunkKey{k})
			continue
		}
		s.slices[n-1] = append(s.slices[n-1], k)
	}
	if s.slices == nil {
		s.slices = [][]coords.ChunkKey{}
	}
	s.size = len(keys)
	s.sliceIdx = 0
	s.idx = 0
}

func count(r world.Readiness, st *StepStats) {
	switch r {
	case world.NotPresent:
		st.Missing++
	case world.NotTickable:
		st.Asleep++
	case world.Busy:
		st.Busy++
	}
}

func (s *Scheduler) runInline(key coords.ChunkKey, st *StepStats) bool {
	res, r := s.w.TickChunk(key)
	if r != world.Ready {
		count(r, st)
		return false
	}
	st.Ticked++
	record(res, st)
	return true
}

func (s *Scheduler) dispatch(key coords.ChunkKey, st *StepStats) bool {
	job, r := s.w.PrepareTick(key)
	if r != world.Ready {
		count(r, st)
		return false
	}
	s.submit(job)
	st.Dispatched++
	return true
}

// parallel hands every tickable chunk in range to the pool, each over a
// private copy of its voxels.
func (s *Scheduler) parallel(ref mgl32.Vec3, st *StepStats) {
	keys := s.w.ChunksInRange(ref, s.cfg.Radius)
	st.WorkingSet = len(keys)
	for _, key := range keys {
		job, r := s.w.PrepareIsolatedTick(key)
		if r != world.Ready {
			count(r, st)
			continue
		}
		s.submit(job)
		st.Dispatched++
	}
	st.SweepDone = true
}

func (s *Scheduler) submit(job *world.TickJob) {
	s.wg.Add(1)
	s.inFlight.Add(1)
	s.pool.Submit(func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)
		res := job.Run()
		s.doneMu.Lock()
		s.done = append(s.done, res)
		s.doneMu.Unlock()
	})
}

func (s *Scheduler) harvest(st *StepStats) {
	s.doneMu.Lock()
	done := s.done
	s.done = nil
	s.doneMu.Unlock()
	for _, res := range done {
		record(res, st)
	}
}

func record(res world.TickResult, st *StepStats) {
	st.Completed++
	st.Moves += res.Moves
	st.CrossChunkMoves += res.CrossChunkMoves
	if res.Discarded {
		st.Discarded++
	}
}
