package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelgrid.ai/internal/observerproto"
	persistlog "voxelgrid.ai/internal/persistence/log"
	"voxelgrid.ai/internal/sim/loop"
	"voxelgrid.ai/internal/sim/mesh"
	"voxelgrid.ai/internal/sim/scheduler"
	"voxelgrid.ai/internal/sim/tuning"
	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world"
	"voxelgrid.ai/internal/sim/world/coords"
	"voxelgrid.ai/internal/sim/world/terrain/gen"
	"voxelgrid.ai/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml or tuning.toml (default: <configs>/tuning.yaml)")
		voxelsPath  = flag.String("voxels", "", "path to voxels.yaml (default: <configs>/voxels.yaml)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite step/chunk index")
		strategy    = flag.String("strategy", "", "override tuning strategy (time_sliced|task_offload|data_parallel|none)")
		seed        = flag.Int64("seed", 0, "override tuning seed (0 keeps the tuning value)")
		follow      = flag.Bool("follow_observer", false, "use the latest observer position as the reference point")
		allowRemote = flag.Bool("allow_remote", false, "serve observer endpoints to non-loopback clients")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	vp := strings.TrimSpace(*voxelsPath)
	if vp == "" {
		vp = filepath.Join(*configDir, "voxels.yaml")
	}

	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if s := strings.TrimSpace(*strategy); s != "" {
		tune.Strategy = s
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	st, _ := scheduler.ParseStrategy(tune.Strategy)

	cat, err := voxel.LoadCatalog(vp)
	if err != nil {
		logger.Fatalf("load voxels: %v", err)
	}
	space, err := coords.NewSpace(tune.ChunkSize, tune.VoxelSize)
	if err != nil {
		logger.Fatalf("space: %v", err)
	}
	g, err := gen.New(space, cat, tune.Seed, tune.WorldGen)
	if err != nil {
		logger.Fatalf("worldgen: %v", err)
	}
	w, err := world.New(world.Config{
		Space:              space,
		Seed:               tune.Seed,
		GenerationsPerStep: tune.GenerationsPerStep,
		ContainerPool:      tune.ContainerPool,
		UnloadGrace:        time.Duration(tune.UnloadGraceMs) * time.Millisecond,
	}, cat, g)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Strategy:      st,
		Radius:        tune.SimulationDistance,
		ChunksPerStep: tune.ChunksPerStep,
		Workers:       tune.Workers,
	}, w)
	if err != nil {
		logger.Fatalf("scheduler: %v", err)
	}
	defer sched.Close()

	// Optional read-model index; the step log stays the source of truth.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cat, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	stepLog := persistlog.NewStepLogger(*dataDir)
	defer stepLog.Close()

	obsSrv := observer.NewServer(w, observerproto.WorldParams{
		TickRateHz:         tune.TickRateHz,
		ChunkSize:          tune.ChunkSize,
		VoxelSize:          tune.VoxelSize,
		Seed:               tune.Seed,
		Strategy:           string(st),
		RenderDistance:     tune.RenderDistance,
		SimulationDistance: tune.SimulationDistance,
	}, logger)
	obsSrv.AllowRemote = *allowRemote

	opts := loop.Options{
		Mesher:    mesh.Culled{},
		Publisher: obsSrv,
		Steps:     stepLog,
		Logger:    logger,
	}
	if idx != nil {
		opts.Index = idx
	}
	if *follow {
		opts.Follow = obsSrv
	}
	l, err := loop.New(loop.Config{
		TickRateHz:     tune.TickRateHz,
		RenderDistance: tune.RenderDistance,
		MeshesPerStep:  tune.MeshesPerStep,
		Reference:      tune.ReferencePoint(),
	}, w, sched, opts)
	if err != nil {
		logger.Fatalf("loop: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := l.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("loop stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(l, obsSrv, idx))
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())

	if envBool("VG_ENABLE_ADMIN_HTTP", true) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", stateHandler(l))
		mux.HandleFunc("/admin/v1/strategy", strategyHandler(l))
	} else {
		logger.Printf("admin endpoints disabled (VG_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VG_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s strategy=%s chunk_size=%d render=%d sim=%d", *addr, st, tune.ChunkSize, tune.RenderDistance, tune.SimulationDistance)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-loopDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
