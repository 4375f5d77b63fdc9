package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/marco-hrlic/go-localize/sim"
	"github.com/marco-hrlic/go-localize/trace"
	"github.com/milosgajdos83/matrix"
	"gonum.org/v1/plot/vg"
)

var (
	// configPath is path to simulation config
	configPath string
	// steps overrides the number of simulation steps
	steps int
	// particles overrides the number of filter particles
	particles int
	// seed overrides the simulation seed
	seed uint64
	// plotPath is path to the output trajectory plot
	plotPath string
	// dbPath is path to the trace database
	dbPath string
	// verbose prints every step
	verbose bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to JSON simulation config")
	flag.IntVar(&steps, "steps", 0, "Number of simulation steps")
	flag.IntVar(&particles, "particles", 0, "Number of filter particles")
	flag.Uint64Var(&seed, "seed", 0, "Simulation seed")
	flag.StringVar(&plotPath, "plot", "trajectory.png", "Output trajectory plot; empty disables plotting")
	flag.StringVar(&dbPath, "db", "", "SQLite trace database; empty disables tracing")
	flag.BoolVar(&verbose, "v", false, "Print every simulation step")
}

type printer struct {
	next sim.Recorder
}

func (p *printer) Record(s sim.Step) error {
	fmt.Printf("step %4d truth=(%7.3f, %7.3f) est=(%7.3f, %7.3f) trace=%8.5f neff=%7.2f resampled=%v\n",
		s.Index, s.Truth[0], s.Truth[1], s.Estimate[0], s.Estimate[1], s.CovTrace, s.Neff, s.Resampled)
	if p.next != nil {
		return p.next.Record(s)
	}
	return nil
}

func main() {
	flag.Parse()

	cfg := sim.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = sim.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	if steps > 0 {
		cfg.Steps = &steps
	}
	if particles > 0 {
		cfg.Particles = &particles
	}
	if seed > 0 {
		cfg.Seed = &seed
	}

	var rec sim.Recorder
	if dbPath != "" {
		store, err := trace.Open(dbPath)
		if err != nil {
			log.Fatalf("Failed to open trace database: %v", err)
		}
		defer store.Close()

		run, err := store.NewRun(cfg)
		if err != nil {
			log.Fatalf("Failed to create trace run: %v", err)
		}
		log.Printf("Tracing run %s to %s", run.ID, dbPath)
		rec = run
	}

	if verbose {
		rec = &printer{next: rec}
	}

	log.Printf("Running %d steps with %d particles", cfg.GetSteps(), cfg.GetParticles())

	res, err := sim.Run(cfg, rec)
	if err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	last, _ := res.Estimate.Dims()
	fmt.Printf("TRUTH State:\n%v\n", matrix.Format(res.Truth.RowView(last-1)))
	fmt.Printf("FILTER State:\n%v\n", matrix.Format(res.Estimate.RowView(last-1)))
	fmt.Printf("Particle spread:\n%v\n", matrix.Format(res.Spread))
	fmt.Printf("Resamples: %d\n", res.Resamples)
	fmt.Printf("Position RMSE: filter %.4f, dead reckoning %.4f\n", res.PositionRMSE(), res.DeadReckoningRMSE())

	if plotPath == "" {
		return
	}

	plt, err := sim.NewTrajectoryPlot(res, cfg.GetLandmarks())
	if err != nil {
		log.Fatalf("Failed to make plot: %v", err)
	}

	// Save the plot to a PNG file.
	if err := plt.Save(10*vg.Inch, 10*vg.Inch, plotPath); err != nil {
		log.Fatalf("Failed to save plot to %s: %v", plotPath, err)
	}
}
