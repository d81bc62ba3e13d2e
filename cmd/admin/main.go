package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	persistlog "voxelgrid.ai/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "log":
			logCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "strategy":
			strategyCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the step log files.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := persistlog.ListStepFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

func logCmd(args []string) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	since := fs.Uint64("since", 0, "first step (inclusive)")
	to := fs.Uint64("to", 0, "last step (inclusive, 0 = no limit)")
	_ = fs.Parse(args)

	paths, err := persistlog.ListStepFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	sum, err := summarizeSteps(paths, *since, *to)
	if err != nil {
		fmt.Fprintln(os.Stderr, "summarize:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)
}

type stepSummary struct {
	Files     int    `json:"files"`
	Steps     int    `json:"steps"`
	FirstStep uint64 `json:"first_step"`
	LastStep  uint64 `json:"last_step"`

	MaxDurationUs  int64   `json:"max_duration_us"`
	MeanDurationUs float64 `json:"mean_duration_us"`

	Generated       int `json:"generated"`
	GenFailed       int `json:"generation_failed"`
	Deactivated     int `json:"deactivated"`
	Ticked          int `json:"ticked"`
	Dispatched      int `json:"dispatched"`
	Moves           int `json:"moves"`
	CrossChunkMoves int `json:"cross_chunk_moves"`
	Discarded       int `json:"discarded"`
	MeshesBuilt     int `json:"meshes_built"`

	// StepsByStrategy counts steps run under each strategy, sorted by name.
	StepsByStrategy []strategyCount `json:"steps_by_strategy"`
}

type strategyCount struct {
	Strategy string `json:"strategy"`
	Steps    int    `json:"steps"`
}

func summarizeSteps(paths []string, since, to uint64) (stepSummary, error) {
	var (
		sum   stepSummary
		total int64
	)
	byStrategy := map[string]int{}
	for _, p := range paths {
		sum.Files++
		err := persistlog.ReadSteps(p, func(e persistlog.StepEntry) error {
			if e.Step < since || (to != 0 && e.Step > to) {
				return nil
			}
			if sum.Steps == 0 || e.Step < sum.FirstStep {
				sum.FirstStep = e.Step
			}
			if e.Step > sum.LastStep {
				sum.LastStep = e.Step
			}
			sum.Steps++
			total += e.DurationUs
			sum.MaxDurationUs = max(sum.MaxDurationUs, e.DurationUs)
			sum.Generated += e.Stream.Generated
			sum.GenFailed += e.Stream.Failed
			sum.Deactivated += e.Stream.Deactivated
			sum.Ticked += e.Sched.Ticked
			sum.Dispatched += e.Sched.Dispatched
			sum.Moves += e.Sched.Moves
			sum.CrossChunkMoves += e.Sched.CrossChunkMoves
			sum.Discarded += e.Sched.Discarded
			sum.MeshesBuilt += e.Meshes.Built
			byStrategy[string(e.Sched.Strategy)]++
			return nil
		})
		if err != nil {
			return sum, err
		}
	}
	if sum.Steps > 0 {
		sum.MeanDurationUs = float64(total) / float64(sum.Steps)
	}
	for st, n := range byStrategy {
		sum.StepsByStrategy = append(sum.StepsByStrategy, strategyCount{Strategy: st, Steps: n})
	}
	sort.Slice(sum.StepsByStrategy, func(i, j int) bool {
		return sum.StepsByStrategy[i].Strategy < sum.StepsByStrategy[j].Strategy
	})
	return sum, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
