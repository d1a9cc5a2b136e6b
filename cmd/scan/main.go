package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"

	"vio-engine-go/binlog"
	"vio-engine-go/config"
	"vio-engine-go/so3"
	"vio-engine-go/stream"
)

// scan pre-integrates every source of a binary log offline and writes one
// CSV row per keyframe interval.
func main() {
	logPath := flag.String("binlog", "", "Input binary log")
	outPath := flag.String("out", "keyframes.csv", "Output CSV path")
	source := flag.String("source", "", "Only this source, in hex (e.g. B50AC)")
	configPath := flag.String("config", "", "Engine YAML (defaults to the configuration recorded in the log)")
	flag.Parse()

	if *logPath == "" {
		fmt.Println("--binlog required")
		os.Exit(1)
	}

	parser := binlog.NewParser(*logPath)
	if err := parser.Parse(); err != nil {
		fmt.Printf("parse binlog failed: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	var err error
	switch {
	case *configPath != "":
		cfg, err = config.Load(*configPath)
	case len(parser.Config) > 0:
		cfg, err = config.Decode(parser.Config)
	}
	if err != nil {
		fmt.Printf("configuration: %v\n", err)
		os.Exit(1)
	}
	factory, err := cfg.Factory()
	if err != nil {
		fmt.Printf("pre-integrator: %v\n", err)
		os.Exit(1)
	}

	sources := parser.Sources()
	if *source != "" {
		id, err := strconv.ParseUint(*source, 16, 32)
		if err != nil {
			fmt.Printf("invalid source: %v\n", err)
			os.Exit(1)
		}
		sources = []uint32{uint32(id)}
	}

	rows := [][]string{{"source", "seq", "from", "to", "steps", "rx", "ry", "rz", "sxx", "syy", "szz"}}
	for _, src := range sources {
		samples, keyframes := parser.FilterSamples(src)
		p := stream.NewPipeline(src, factory, len(samples)+2, cfg.IMU.GyroBiasVec())
		for _, s := range samples {
			if err := p.Insert(s); err != nil {
				fmt.Printf("source %08X: %v\n", src, err)
			}
		}
		count := 0
		for _, t := range keyframes {
			res, err := p.Keyframe(t)
			if err != nil {
				fmt.Printf("source %08X: %v\n", src, err)
				continue
			}
			if res == nil {
				continue
			}
			rows = append(rows, row(res))
			count++
		}
		fmt.Printf("Source %08X: %d samples, %d keyframe intervals\n", src, len(samples), count)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Printf("create %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		fmt.Printf("write %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d rows to %s\n", len(rows)-1, *outPath)
}

func row(r *stream.Result) []string {
	phi := so3.Log(r.DeltaR)
	g := func(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }
	return []string{
		fmt.Sprintf("%08X", r.Source), strconv.Itoa(int(r.Seq)), g(r.From), g(r.Time), strconv.Itoa(r.Steps),
		g(phi.X), g(phi.Y), g(phi.Z), g(r.Cov[0][0]), g(r.Cov[1][1]), g(r.Cov[2][2]),
	}
}
