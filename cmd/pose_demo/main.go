package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/camera"
	"vio-engine-go/config"
	"vio-engine-go/monitoring"
	"vio-engine-go/poseopt"
	"vio-engine-go/relay"
	"vio-engine-go/so3"
)

func main() {
	configPath := flag.String("config", "", "Engine YAML (defaults built in when empty)")
	n := flag.Int("n", 120, "Landmarks per frame")
	frames := flag.Int("frames", 1, "Sensors rigidly mounted on the body")
	pixelNoise := flag.Float64("noise", 1.0, "Pixel noise sigma")
	outliers := flag.Float64("outliers", 0, "Fraction of bearings replaced by random directions")
	seed := flag.Uint64("seed", 1, "Random seed")
	dest := flag.String("relay", "", "UDP address receiving the pose line")
	verbose := flag.Bool("v", false, "Log every iteration")
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	cam, err := cfg.CameraModel()
	if err != nil {
		log.Fatalf("Camera: %v", err)
	}
	if cam == nil {
		cam, _ = camera.NewPinhole(640, 480, 329.11, 329.11, 320, 240)
	}
	opts, err := cfg.OptimizerOptions()
	if err != nil {
		log.Fatalf("Optimizer options: %v", err)
	}

	rng := rand.New(rand.NewPCG(*seed, 0))
	truth := so3.RandomTransform(rng)
	data := make([]poseopt.FrameData, *frames)
	for k := range data {
		tCB := so3.RandomTransform(rng)
		data[k], err = observe(cam, truth, tCB, *n, *pixelNoise, *outliers, rng)
		if err != nil {
			log.Fatalf("Frame %d: %v", k, err)
		}
	}

	// The prior sits at the truth, the start is perturbed away from it.
	initial := truth.Retract([6]float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1})
	opt, err := poseopt.New(data, truth, cfg.Optimizer.PositionPriorWeight, cfg.Optimizer.RotationPriorWeight, opts)
	if err != nil {
		log.Fatalf("Optimizer: %v", err)
	}
	res, err := opt.Optimize(initial)
	if err != nil && !errors.Is(err, poseopt.ErrNotConverged) {
		log.Fatalf("Optimize: %v", err)
	}
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	e := truth.Compose(res.Pose.Inverse())
	fmt.Printf("camera:      %s\n", cam.Type())
	fmt.Printf("loss:        %s\n", opts.Loss)
	fmt.Printf("iterations:  %d\n", res.Iterations)
	fmt.Printf("cost:        %.6e\n", res.Cost)
	fmt.Printf("pos error:   %.6f m\n", r3.Norm(e.T))
	fmt.Printf("rot error:   %.6f rad\n", r3.Norm(so3.Log(e.R)))
	if res.Covariance != nil {
		fmt.Printf("sigma rho:   %.2e %.2e %.2e\n", sqrt(res.Covariance.At(0, 0)), sqrt(res.Covariance.At(1, 1)), sqrt(res.Covariance.At(2, 2)))
		fmt.Printf("sigma omega: %.2e %.2e %.2e\n", sqrt(res.Covariance.At(3, 3)), sqrt(res.Covariance.At(4, 4)), sqrt(res.Covariance.At(5, 5)))
	}

	if *dest != "" {
		snd := relay.NewSender()
		if err := snd.AddUDPSender(*dest, relay.FlagPose); err != nil {
			log.Fatalf("Relay: %v", err)
		}
		if err := snd.Start(); err != nil {
			log.Fatalf("Relay: %v", err)
		}
		snd.Send(relay.FormatPose(uint32(*seed), 0, 0, res.Pose), relay.FlagPose)
		snd.Stop()
	}
}

// observe projects random landmarks seen from a sensor at T_C_B on a body
// at T_B_W, adding pixel noise and outliers.
func observe(cam camera.Camera, tBW, tCB so3.Transform, n int, noise, outliers float64, rng *rand.Rand) (poseopt.FrameData, error) {
	tWC := tCB.Compose(tBW).Inverse()
	rays, points := camera.RandomLandmarks(cam, n, 1, 3, rng)
	bearings := make([]r3.Vec, n)
	landmarks := make([]r3.Vec, n)
	for i := range rays {
		landmarks[i] = tWC.Apply(points[i])
		if rng.Float64() < outliers {
			bearings[i] = so3.RandomDirection(rng)
			continue
		}
		px := cam.Project(points[i])
		px = r2.Vec{X: px.X + noise*rng.NormFloat64(), Y: px.Y + noise*rng.NormFloat64()}
		bearings[i] = camera.Bearing(cam, px)
	}
	return poseopt.NewFrameData(bearings, landmarks, tCB)
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
