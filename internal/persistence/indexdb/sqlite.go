package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	steplog "voxelgrid.ai/internal/persistence/log"
	"voxelgrid.ai/internal/sim/tuning"
	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

// Chunk lifecycle event kinds.
const (
	EventGenerated        = "generated"
	EventGenerationFailed = "generation_failed"
	EventActivated        = "activated"
	EventDeferred         = "deferred"
	EventDeactivated      = "deactivated"
)

type ChunkEvent struct {
	Step   uint64          `json:"step"`
	Kind   string          `json:"kind"`
	Key    coords.ChunkKey `json:"key"`
	Detail string          `json:"detail,omitempty"`
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStep  atomic.Uint64
	dropEvent atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqEvent
)

type req struct {
	kind reqKind

	step  steplog.StepEntry
	event ChunkEvent
}

type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropStepTotal  uint64 `json:"drop_step_total"`
	DropEventTotal uint64 `json:"drop_event_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Bursty streaming (a whole render cube generating at once) must not stall the step.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL lets the admin tool read while the server appends.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			step INTEGER PRIMARY KEY,
			time_unix_ms INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			working_set INTEGER NOT NULL,
			ticked INTEGER NOT NULL,
			dispatched INTEGER NOT NULL,
			moves INTEGER NOT NULL,
			cross_chunk_moves INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			generated INTEGER NOT NULL,
			activated INTEGER NOT NULL,
			deactivated INTEGER NOT NULL,
			meshes_built INTEGER NOT NULL,
			loaded INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_events (
			step INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			detail TEXT,
			PRIMARY KEY (step, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_key_step ON chunk_events(cx, cy, cz, step);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_kind_step ON chunk_events(kind, step);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteStep(e steplog.StepEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqStep, step: e}:
	default:
		// The step log stays the source of truth.
		s.dropStep.Add(1)
	}
}

func (s *SQLiteIndex) RecordChunkEvent(e ChunkEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvent.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropStepTotal:  s.dropStep.Load(),
		DropEventTotal: s.dropEvent.Load(),
	}
}

// UpsertCatalogs stores the voxel catalog and the effective tuning.
func (s *SQLiteIndex) UpsertCatalogs(cat *voxel.Catalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cat != nil {
		if b, _ := json.Marshal(cat.Defs); len(b) > 0 {
			rows = append(rows, kv{name: "voxels", digest: cat.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(step,time_unix_ms,duration_us,strategy,working_set,ticked,dispatched,moves,cross_chunk_moves,discarded,generated,activated,deactivated,meshes_built,loaded,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunk_events(step,seq,kind,cx,cy,cz,detail) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertStep != nil {
			_ = insertStep.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = time.Second

		lastEventStep uint64
		eventSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStep:
			e := r.step
			if insertStep == nil {
				break
			}
			raw, _ := json.Marshal(e)
			if _, err := tx.Stmt(insertStep).Exec(
				int64(e.Step),
				e.TimeUnixMs,
				e.DurationUs,
				string(e.Sched.Strategy),
				e.Sched.WorkingSet,
				e.Sched.Ticked,
				e.Sched.Dispatched,
				e.Sched.Moves,
				e.Sched.CrossChunkMoves,
				e.Sched.Discarded,
				e.Stream.Generated,
				e.Stream.Activated,
				e.Stream.Deactivated,
				e.Meshes.Built,
				e.World.Loaded,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqEvent:
			e := r.event
			if insertEvent == nil {
				break
			}
			if e.Step != lastEventStep {
				lastEventStep = e.Step
				eventSeq = 0
			}
			seq := eventSeq
			eventSeq++
			if _, err := tx.Stmt(insertEvent).Exec(int64(e.Step), seq, e.Kind, e.Key.X, e.Key.Y, e.Key.Z, e.Detail); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
