package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/config"
	"vio-engine-go/monitoring"
	"vio-engine-go/montecarlo"
	"vio-engine-go/scenario"
)

func main() {
	configPath := flag.String("config", "", "Engine YAML (defaults built in when empty)")
	rounds := flag.Int("rounds", 0, "Monte-Carlo rounds, overrides montecarlo.rounds")
	plotPath := flag.String("plot", "", "Covariance plot (.png, .svg, .pdf), overrides montecarlo.plot")
	rate := flag.Float64("rate", 0, "Constant yaw rate in rad/s; 0 uses a sinusoidal trajectory")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if *rounds > 0 {
		cfg.MonteCarlo.Rounds = *rounds
	}
	if *plotPath != "" {
		cfg.MonteCarlo.Plot = *plotPath
	}

	var traj scenario.Trajectory = scenario.Sinusoid{
		Amplitude: r3.Vec{X: 0.8, Y: 0.5, Z: 1.2},
		Frequency: r3.Vec{X: 0.7, Y: 1.1, Z: 0.4},
		Phase:     r3.Vec{Y: 0.3, Z: 1.0},
	}
	if *rate != 0 {
		traj = scenario.Constant{Rate: r3.Vec{Z: *rate}}
	}
	scen, err := scenario.NewRunner(traj, cfg.Preintegration.IMURate, cfg.Preintegration.KeyframeRate,
		cfg.IMU.GyroCovariance(), r3.Vec{})
	if err != nil {
		log.Fatalf("Scenario: %v", err)
	}
	factory, err := cfg.Factory()
	if err != nil {
		log.Fatalf("Failed to build pre-integrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc := montecarlo.NewRunner(scen, factory, montecarlo.Options{Seed: cfg.MonteCarlo.Seed, Workers: cfg.MonteCarlo.Workers})
	log.Printf("Run %s: %d rounds of %s pre-integration over [%g, %g] s", mc.ID(), cfg.MonteCarlo.Rounds,
		factory.Kind(), cfg.MonteCarlo.Start, cfg.MonteCarlo.End)
	if err := mc.Simulate(ctx, cfg.MonteCarlo.Rounds, cfg.MonteCarlo.Start, cfg.MonteCarlo.End); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	rep, err := mc.Compare()
	if err != nil {
		log.Fatalf("Compare: %v", err)
	}
	last := len(mc.Covariances()) - 1
	fmt.Printf("steps:            %d\n", len(rep.Relative))
	fmt.Printf("relative error:   mean %.4f  max %.4f  final %.4f\n", rep.Mean, rep.Max, rep.Final)
	fmt.Printf("final trace:      analytic %.4e  monte-carlo %.4e  absolute %.4e\n",
		mc.Analytic()[last].Trace(), mc.Covariances()[last].Trace(), mc.CovariancesAbsolute()[last].Trace())

	if cfg.MonteCarlo.Plot != "" {
		if err := mc.SavePlot(cfg.MonteCarlo.Plot); err != nil {
			log.Fatalf("Plot: %v", err)
		}
		log.Printf("Saved %s", cfg.MonteCarlo.Plot)
	}
}
