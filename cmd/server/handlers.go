package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"voxelgrid.ai/internal/sim/loop"
	"voxelgrid.ai/internal/sim/scheduler"
	"voxelgrid.ai/internal/transport/observer"
)

func metricsHandler(l *loop.Loop, obs *observer.Server, idx runtimeIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := l.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP voxelgrid_step Current main step.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_step gauge\n")
		fmt.Fprintf(rw, "voxelgrid_step{strategy=%q} %d\n", m.Strategy, m.Step)

		fmt.Fprintf(rw, "# HELP voxelgrid_step_ms Last main step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_step_ms gauge\n")
		fmt.Fprintf(rw, "voxelgrid_step_ms %.3f\n", float64(m.LastDurationUs)/1000)

		fmt.Fprintf(rw, "# HELP voxelgrid_step_overruns_total Steps that took longer than the tick interval.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_step_overruns_total counter\n")
		fmt.Fprintf(rw, "voxelgrid_step_overruns_total %d\n", m.Overruns)

		fmt.Fprintf(rw, "# HELP voxelgrid_chunks Chunk counts by state.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_chunks gauge\n")
		fmt.Fprintf(rw, "voxelgrid_chunks{state=%q} %d\n", "present", m.World.Present)
		fmt.Fprintf(rw, "voxelgrid_chunks{state=%q} %d\n", "initialized", m.World.Initialized)
		fmt.Fprintf(rw, "voxelgrid_chunks{state=%q} %d\n", "loaded", m.World.Loaded)
		fmt.Fprintf(rw, "voxelgrid_chunks{state=%q} %d\n", "awake", m.World.Awake)
		fmt.Fprintf(rw, "voxelgrid_chunks{state=%q} %d\n", "updating", m.World.Updating)
		fmt.Fprintf(rw, "voxelgrid_chunks{state=%q} %d\n", "mesh_dirty", m.World.MeshDirty)

		fmt.Fprintf(rw, "# HELP voxelgrid_containers Renderable containers.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_containers gauge\n")
		fmt.Fprintf(rw, "voxelgrid_containers{kind=%q} %d\n", "in_use", m.World.ContainersInUse)
		fmt.Fprintf(rw, "voxelgrid_containers{kind=%q} %d\n", "capacity", m.World.ContainersCap)

		fmt.Fprintf(rw, "# HELP voxelgrid_events_total Simulation counters since start.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_events_total counter\n")
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "generated", m.GeneratedTotal)
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "generation_failed", m.GenFailedTotal)
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "moves", m.MovesTotal)
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "cross_chunk_moves", m.CrossChunkTotal)
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "discarded", m.DiscardedTotal)
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "mesh_built", m.MeshBuiltTotal)
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "mesh_failed", m.MeshFailedTotal)
		fmt.Fprintf(rw, "voxelgrid_events_total{event=%q} %d\n", "step_log_error", m.StepLogErrorsTotal)

		if obs != nil {
			fmt.Fprintf(rw, "# HELP voxelgrid_observer_sessions Connected observer sessions.\n")
			fmt.Fprintf(rw, "# TYPE voxelgrid_observer_sessions gauge\n")
			fmt.Fprintf(rw, "voxelgrid_observer_sessions %d\n", obs.Sessions())
			fmt.Fprintf(rw, "# HELP voxelgrid_observer_dropped_total Observer sessions closed for falling behind.\n")
			fmt.Fprintf(rw, "# TYPE voxelgrid_observer_dropped_total counter\n")
			fmt.Fprintf(rw, "voxelgrid_observer_dropped_total %d\n", obs.Dropped())
		}

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP voxelgrid_index_queue_depth Index writer queue depth.\n")
			fmt.Fprintf(rw, "# TYPE voxelgrid_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "voxelgrid_index_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP voxelgrid_index_dropped_total Index writes dropped on a full queue.\n")
			fmt.Fprintf(rw, "# TYPE voxelgrid_index_dropped_total counter\n")
			fmt.Fprintf(rw, "voxelgrid_index_dropped_total{kind=%q} %d\n", "step", s.DropStepTotal)
			fmt.Fprintf(rw, "voxelgrid_index_dropped_total{kind=%q} %d\n", "event", s.DropEventTotal)
		}
	}
}

func stateHandler(l *loop.Loop) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(l.Metrics())
	}
}

// strategyHandler switches the scheduler: POST /admin/v1/strategy?name=task_offload
func strategyHandler(l *loop.Loop) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		st, err := scheduler.ParseStrategy(r.URL.Query().Get("name"))
		if err != nil || strings.TrimSpace(r.URL.Query().Get("name")) == "" {
			http.Error(rw, "bad strategy", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		rw.Header().Set("Content-Type", "application/json")
		if err := l.SetStrategy(ctx, st); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "strategy": st})
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
