package main

import (
	"flag"
	"log"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"vio-engine-go/binlog"
	"vio-engine-go/config"
	"vio-engine-go/imu"
	"vio-engine-go/protocol"
	"vio-engine-go/scenario"
)

func main() {
	configPath := flag.String("config", "", "Engine YAML (defaults built in when empty)")
	out := flag.String("out", "synthetic.pcap", "Output binary log")
	duration := flag.Float64("duration", 10, "Seconds of data")
	source := flag.Uint("source", 0xB50AC, "Source id")
	seed := flag.Uint64("seed", 1, "Noise seed")
	clean := flag.Bool("clean", false, "Write noise-free measurements")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}

	traj := scenario.Sinusoid{
		Amplitude: r3.Vec{X: 0.8, Y: 0.5, Z: 1.2},
		Frequency: r3.Vec{X: 0.7, Y: 1.1, Z: 0.4},
		Phase:     r3.Vec{Y: 0.3, Z: 1.0},
	}
	scen, err := scenario.NewRunner(traj, cfg.Preintegration.IMURate, cfg.Preintegration.KeyframeRate,
		cfg.IMU.GyroCovariance(), cfg.IMU.GyroBiasVec())
	if err != nil {
		log.Fatalf("Scenario: %v", err)
	}
	stamps, gyro, err := scen.Measurements(0, *duration, !*clean, rand.NewPCG(*seed, 0))
	if err != nil {
		log.Fatalf("Measurements: %v", err)
	}

	pw, err := binlog.NewWriter(*out)
	if err != nil {
		log.Fatalf("Failed to create binlog writer: %v", err)
	}
	defer pw.Close()
	if doc, err := yaml.Marshal(cfg); err == nil {
		if err := pw.WriteConfig(doc); err != nil {
			log.Fatalf("Write config: %v", err)
		}
	}

	// The last stamp gets a sample too so the final keyframe is covered.
	gyro = append(gyro, gyro[len(gyro)-1])
	src := uint32(*source)
	base := time.Unix(1_700_000_000, 0)
	m := scen.StepsPerKeyframe()
	keyframes := 0
	for i, t := range stamps {
		dgram := protocol.EncodeIMU(src, imu.Sample{Time: t, Gyr: gyro[i]})
		if i%m == 0 || i == len(stamps)-1 {
			dgram = append(dgram, protocol.EncodeKeyframe(src, t)...)
			keyframes++
		}
		ts := base.Add(time.Duration(t * float64(time.Second)))
		if err := pw.WritePacketAt(ts, binlog.FlagRx, nil, dgram); err != nil {
			log.Fatalf("Write packet: %v", err)
		}
	}
	log.Printf("Wrote %d samples and %d keyframe markers to %s", len(stamps), keyframes, *out)
}
