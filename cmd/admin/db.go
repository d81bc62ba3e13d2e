package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voxelgrid.ai/internal/persistence/indexdb"
	"voxelgrid.ai/internal/sim/world/coords"
)

// dbCmd queries the sqlite index: steps | chunk | events.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/world.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	key := fs.String("key", "", "chunk key x,y,z (chunk)")
	_ = fs.Parse(args)

	q := "steps"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "world.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := runQuery(ctx, r, q, *key, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(2)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

type eventCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

func runQuery(ctx context.Context, r *indexdb.Reader, q, key string, limit int) (any, error) {
	switch q {
	case "steps":
		return r.RecentSteps(ctx, limit)
	case "chunk":
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("missing -key")
		}
		v, err := parseVec3(key)
		if err != nil {
			return nil, fmt.Errorf("bad -key: %w", err)
		}
		return r.ChunkHistory(ctx, coords.ChunkKey{X: v[0], Y: v[1], Z: v[2]}, limit)
	case "events":
		counts, err := r.EventCounts(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]eventCount, 0, len(counts))
		for k, n := range counts {
			out = append(out, eventCount{Kind: k, Count: n})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
		return out, nil
	default:
		return nil, fmt.Errorf("unknown query %q (steps|chunk|events)", q)
	}
}
