package indexdb

import (
	"context"
	"database/sql"

	"voxelgrid.ai/internal/sim/world/coords"
)

// Reader runs read-only queries against an index written by SQLiteIndex,
// usually from another process.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type StepRow struct {
	Step            uint64 `json:"step"`
	TimeUnixMs      int64  `json:"time_unix_ms"`
	DurationUs      int64  `json:"duration_us"`
	Strategy        string `json:"strategy"`
	WorkingSet      int    `json:"working_set"`
	Ticked          int    `json:"ticked"`
	Dispatched      int    `json:"dispatched"`
	Moves           int    `json:"moves"`
	CrossChunkMoves int    `json:"cross_chunk_moves"`
	Discarded       int    `json:"discarded"`
	Generated       int    `json:"generated"`
	Activated       int    `json:"activated"`
	Deactivated     int    `json:"deactivated"`
	MeshesBuilt     int    `json:"meshes_built"`
	Loaded          int    `json:"loaded"`
}

// RecentSteps returns up to limit steps, newest first.
func (r *Reader) RecentSteps(ctx context.Context, limit int) ([]StepRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT step,time_unix_ms,duration_us,strategy,working_set,ticked,dispatched,moves,cross_chunk_moves,discarded,generated,activated,deactivated,meshes_built,loaded
		FROM steps ORDER BY step DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StepRow
	for rows.Next() {
		var s StepRow
		var step int64
		if err := rows.Scan(&step, &s.TimeUnixMs, &s.DurationUs, &s.Strategy, &s.WorkingSet, &s.Ticked, &s.Dispatched,
			&s.Moves, &s.CrossChunkMoves, &s.Discarded, &s.Generated, &s.Activated, &s.Deactivated, &s.MeshesBuilt, &s.Loaded); err != nil {
			return nil, err
		}
		s.Step = uint64(step)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ChunkHistory returns the lifecycle events of one chunk, oldest first.
func (r *Reader) ChunkHistory(ctx context.Context, key coords.ChunkKey, limit int) ([]ChunkEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT step,kind,detail FROM chunk_events
		WHERE cx=? AND cy=? AND cz=? ORDER BY step ASC, seq ASC LIMIT ?`, key.X, key.Y, key.Z, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkEvent
	for rows.Next() {
		var (
			step   int64
			detail sql.NullString
		)
		e := ChunkEvent{Key: key}
		if err := rows.Scan(&step, &e.Kind, &detail); err != nil {
			return nil, err
		}
		e.Step = uint64(step)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventCounts totals chunk events by kind.
func (r *Reader) EventCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM chunk_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
