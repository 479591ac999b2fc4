package main

// aodvsim runs a seeded AODV simulation over a dynamic topology and writes
// the resulting trace for an external visualizer.  The core simulation lives
// in the root package; this front-end only parses flags, sets up logging,
// and serializes the outputs.

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/encodeous/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iti/aodvsim"
)

func main() {
	nodes := flag.Int("n", 10, "node count")
	steps := flag.Int("t", 25, "number of time steps")
	prRequest := flag.Float64("pr", 0.3, "per-step request-event probability")
	prNewLink := flag.Float64("pn", 0.1, "per-step new-link-event probability")
	prFailure := flag.Float64("pf", 0.2, "per-step link-failure probability")
	verbose := flag.Bool("v", false, "verbose logging")
	seed := flag.Int64("seed", time.Now().Unix(), "RNG seed")
	cfgFile := flag.String("config", "", "simulation config file (yaml or json); flags override its values")
	traceFile := flag.String("trace", "trace.yaml", "trace output file (extension selects yaml or json)")
	snapFile := flag.String("snapshot", "", "optional final snapshot output file")
	initLinks := flag.String("init", string(aodvsim.InitConnected), "initial link policy: none or connected")
	metricsAddr := flag.String("metrics", "", "optional listen address for a Prometheus /metrics endpoint")

	flag.Parse()

	cfg := aodvsim.DefaultSimConfig()
	if *cfgFile != "" {
		fileCfg, err := aodvsim.ReadSimConfig(*cfgFile, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading config %q: %v\n", *cfgFile, err)
			os.Exit(1)
		}
		cfg = *fileCfg
	}

	if *cfgFile == "" {
		cfg.Nodes = *nodes
		cfg.TimeSteps = *steps
		cfg.PrRequest = *prRequest
		cfg.PrNewLink = *prNewLink
		cfg.PrFailure = *prFailure
		cfg.Verbose = *verbose
		cfg.InitialLinks = aodvsim.InitialLinks(*initLinks)
		cfg.Seed = *seed
	} else {
		// flags actually given on the command line override the file
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "n":
				cfg.Nodes = *nodes
			case "t":
				cfg.TimeSteps = *steps
			case "pr":
				cfg.PrRequest = *prRequest
			case "pn":
				cfg.PrNewLink = *prNewLink
			case "pf":
				cfg.PrFailure = *prFailure
			case "v":
				cfg.Verbose = *verbose
			case "init":
				cfg.InitialLinks = aodvsim.InitialLinks(*initLinks)
			case "seed":
				cfg.Seed = *seed
			}
		})
	}

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(logger)

	var coll *aodvsim.Collector
	if *metricsAddr != "" {
		var err error
		coll, err = aodvsim.CreateCollector(prometheus.DefaultRegisterer)
		if err != nil {
			logger.Error("registering metrics", "err", err)
			os.Exit(1)
		}
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Error("metrics endpoint", "err", err)
			}
		}()
	}

	logger.Info("random seed", "seed", cfg.Seed)

	sim, err := aodvsim.CreateSimulator(cfg, logger, coll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := sim.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := sim.Trace().WriteToFile(*traceFile); err != nil {
		fmt.Fprintf(os.Stderr, "writing trace %q: %v\n", *traceFile, err)
		os.Exit(1)
	}
	logger.Info("trace written", "file", *traceFile, "steps", cfg.TimeSteps)

	if *snapFile != "" {
		if err := sim.Snapshot().WriteToFile(*snapFile); err != nil {
			fmt.Fprintf(os.Stderr, "writing snapshot %q: %v\n", *snapFile, err)
			os.Exit(1)
		}
		logger.Info("snapshot written", "file", *snapFile)
	}
}
