package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"vio-engine-go/binlog"
	"vio-engine-go/config"
	"vio-engine-go/server"
	"vio-engine-go/so3"
)

func main() {
	logPath := flag.String("binlog", "", "Input binary log")
	destAddr := flag.String("dest", "127.0.0.1:44333", "Destination UDP address")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	local := flag.Bool("local", false, "Pre-integrate in process instead of sending to -dest")
	configPath := flag.String("config", "", "Engine YAML for -local (defaults to the configuration recorded in the log)")
	flag.Parse()

	if *logPath == "" {
		log.Fatal("--binlog required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *local {
		replayLocal(ctx, *logPath, *configPath, *speed)
		return
	}

	raddr, err := net.ResolveUDPAddr("udp", *destAddr)
	if err != nil {
		log.Fatalf("Invalid dest address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	log.Printf("Replaying %s to %s...", *logPath, *destAddr)
	n, err := server.Forward(ctx, *logPath, conn, *speed)
	if err != nil {
		log.Printf("Replay stopped: %v", err)
	}
	fmt.Printf("Done. Sent %d packets.\n", n)
}

func replayLocal(ctx context.Context, path, configPath string, speed float64) {
	cfg, err := loadConfig(path, configPath)
	if err != nil {
		log.Fatalf("Configuration: %v", err)
	}
	factory, err := cfg.Factory()
	if err != nil {
		log.Fatalf("Failed to build pre-integrator: %v", err)
	}

	svr := server.NewUDPServer(factory, cfg.Server.BufferCapacity, cfg.IMU.GyroBiasVec())
	if _, err := svr.Replay(ctx, path, speed); err != nil {
		log.Printf("Replay stopped: %v", err)
	}

	st := svr.Stats()
	fmt.Printf("packets=%d frames=%d skipped=%d keyframes=%d errors=%d\n", st.Packets, st.Frames, st.Skipped, st.Keyframes, st.Errors)
	for _, r := range svr.Latest() {
		phi := so3.Log(r.R)
		fmt.Printf("source %08X: %d keyframes, t=%.3f, R_i_j=(%.6f, %.6f, %.6f), trace(cov)=%.3e\n",
			r.Source, int(r.Seq)+1, r.Time, phi.X, phi.Y, phi.Z, r.Cov.Trace())
	}
}

// loadConfig prefers an explicit file, then the configuration recorded in
// the log, then the defaults.
func loadConfig(logPath, configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	p := binlog.NewParser(logPath)
	if err := p.Parse(); err != nil {
		return nil, err
	}
	if len(p.Config) > 0 {
		return config.Decode(p.Config)
	}
	return config.Default(), nil
}
