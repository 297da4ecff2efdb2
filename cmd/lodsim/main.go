// lodsim drives the LOD combining engine with a synthetic scene of wandering
// objects and reports how the combined meshes evolve.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-lod/internal/config"
	"github.com/Faultbox/midgard-lod/internal/engine/lod"
	"github.com/Faultbox/midgard-lod/internal/engine/meshbuf"
	"github.com/Faultbox/midgard-lod/internal/engine/viewer"
	"github.com/Faultbox/midgard-lod/internal/logger"
	"github.com/Faultbox/midgard-lod/internal/metrics"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		cmdRun(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`lodsim - LOD mesh combining simulator

Usage:
  lodsim <command> [options]

Commands:
  run [flags]        Simulate wandering objects and print engine stats
  config [-o file]   Print or write the default configuration

Run flags:
  -config <file>     Config file (default ./config.yaml or the user config dir)
  -strategy <name>   grid, global or moving
  -budget <n>        Vertex budget per combiner
  -objects <n>       Number of objects
  -frames <n>        Number of frames
  -seed <n>          Random seed
  -metrics <addr>    Serve Prometheus metrics, e.g. :2112
  -check             Verify engine bookkeeping every frame
  -debug             Debug logging

Examples:
  lodsim run -objects 5000 -frames 1000
  lodsim run -strategy global -metrics :2112
  lodsim config -o config.yaml`)
}

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	out := fs.String("o", "", "Write to file instead of stdout")
	fs.Parse(args)

	cfg := config.Default()
	if *out != "" {
		if err := cfg.SaveTo(*out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *out)
		return
	}

	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

func cmdRun(args []string) {
	if err := config.ParseFlags(args); err != nil {
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	l, err := logger.Init(cfg.Logging.LoggerOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := l.Named("lodsim")
	log.Info("=== LOD simulation ===", zap.String("config", cfg.Source()))
	log.Debug("config", zap.Any("engine", cfg.Engine), zap.Any("simulation", cfg.Simulation))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg)
	if err != nil {
		log.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
	printStats(stats)
}

// report is what a finished run prints.
type report struct {
	lod.Stats
	MeshVertices int
	Elapsed      time.Duration
}

// run builds the engine from cfg and ticks the scene until the configured number of
// frames has run or ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) (report, error) {
	opts, err := cfg.EngineOptions()
	if err != nil {
		return report{}, err
	}

	lib, levels := detailLevels(cfg.Simulation.ViewDistance)
	store := meshbuf.NewStore(lib)
	opts.MeshFactory = store.Factory()

	cam := viewer.NewOrbit()
	cam.ViewDistance = cfg.Simulation.ViewDistance
	opts.Viewer = cam
	opts.Logger = logger.Named("lod")
	log := logger.Named("lodsim")

	var snap metrics.Snapshot
	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		opts.Observer = metrics.NewObserver(reg)
		metrics.RegisterSnapshot(reg, &snap)

		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	e, err := lod.New(opts)
	if err != nil {
		return report{}, err
	}

	s, err := newScene(e, cfg.Simulation, levels)
	if err != nil {
		return report{}, err
	}
	cam.FitToBounds(s.bounds())

	var tick <-chan time.Time
	if cfg.Simulation.FrameInterval > 0 {
		t := time.NewTicker(cfg.Simulation.FrameInterval)
		defer t.Stop()
		tick = t.C
	}

	start := time.Now()
	for frame := 0; frame < cfg.Simulation.Frames; frame++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return finish(e, store, start), ctx.Err()
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return finish(e, store, start), ctx.Err()
		}

		cam.Rotate(0.01, 0)
		if err := s.step(); err != nil {
			return finish(e, store, start), err
		}
		st := e.Stats()
		snap.Set(st)

		if frame%100 == 0 {
			log.Debug("frame",
				zap.Uint64("frame", st.Frame),
				zap.Int("combiners", st.Combiners),
				zap.Int("baked_vertices", st.BakedVertices),
				zap.Uint64("splits", st.Splits),
				zap.Uint64("merges", st.Merges))
		}
	}

	if cfg.Engine.ConsistencyChecks {
		if err := e.CheckConsistency(); err != nil {
			return finish(e, store, start), err
		}
	}
	return finish(e, store, start), nil
}

func finish(e *lod.Engine, store *meshbuf.Store, start time.Time) report {
	return report{
		Stats:        e.Stats(),
		MeshVertices: store.TotalVertices(),
		Elapsed:      time.Since(start),
	}
}

func printStats(r report) {
	fmt.Printf("Frames:      %d (%v)\n", r.Frame, r.Elapsed.Round(time.Millisecond))
	fmt.Printf("Objects:     %d\n", r.Objects)
	fmt.Printf("Clusters:    %d\n", r.Clusters)
	fmt.Printf("Combiners:   %d active, %d pooled, %d dirty\n", r.Combiners, r.PooledCombiners, r.DirtyCombiners)
	fmt.Printf("Vertices:    %d baked, %d in buffers, %+d queued\n", r.BakedVertices, r.MeshVertices, r.QueuedVertices)
	fmt.Printf("Bakes:       %d\n", r.Bakes)
	fmt.Printf("Splits:      %d\n", r.Splits)
	fmt.Printf("Merges:      %d\n", r.Merges)
	fmt.Printf("Recycles:    %d\n", r.Recycles)
}
