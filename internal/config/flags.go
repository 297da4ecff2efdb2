package config

import "flag"

var (
	flags = flag.NewFlagSet("lodsim", flag.ContinueOnError)

	flagConfig      = flags.String("config", "", "Path to config file")
	flagDebug       = flags.Bool("debug", false, "Enable debug logging")
	flagStrategy    = flags.String("strategy", "", "Partition strategy: grid, global or moving")
	flagBudget      = flags.Int("budget", 0, "Vertex budget per combiner")
	flagObjects     = flags.Int("objects", 0, "Number of simulated objects")
	flagFrames      = flags.Int("frames", 0, "Number of simulated frames")
	flagSeed        = flags.Int64("seed", 0, "Simulation random seed")
	flagMetrics     = flags.String("metrics", "", "Prometheus listen address, e.g. :2112")
	flagConsistency = flags.Bool("check", false, "Run consistency checks every frame")
)

// ParseFlags parses command-line flags of a subcommand. Call this early in main().
func ParseFlags(args []string) error {
	return flags.Parse(args)
}

// Args returns the positional arguments left after flag parsing.
func Args() []string {
	return flags.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagStrategy != "" {
		cfg.Engine.Strategy = *flagStrategy
	}
	if *flagBudget > 0 {
		cfg.Engine.VertexBudget = *flagBudget
	}
	if *flagObjects > 0 {
		cfg.Simulation.Objects = *flagObjects
	}
	if *flagFrames > 0 {
		cfg.Simulation.Frames = *flagFrames
	}
	if *flagSeed != 0 {
		cfg.Simulation.Seed = *flagSeed
	}
	if *flagMetrics != "" {
		cfg.Metrics.Listen = *flagMetrics
	}
	if *flagConsistency {
		cfg.Engine.ConsistencyChecks = true
	}
}
