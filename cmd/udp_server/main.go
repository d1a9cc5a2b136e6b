package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"vio-engine-go/binlog"
	"vio-engine-go/config"
	"vio-engine-go/monitoring"
	"vio-engine-go/relay"
	"vio-engine-go/server"
	"vio-engine-go/web"
)

func main() {
	configPath := flag.String("config", "", "Path to engine YAML (defaults built in when empty)")
	listen := flag.String("listen", "", "UDP listen address, overrides server.listen")
	httpAddr := flag.String("http", "", "HTTP/WebSocket address (e.g. :8080), overrides server.http")
	distDir := flag.String("dist", "", "Static frontend directory served at /")
	binlogPath := flag.String("binlog", "", "Binary log file or directory, overrides server.binlog_dir")
	logFile := flag.String("log", "", "Rotating log file, overrides server.log_file")
	header := flag.String("hdr", "", "Header prefixed to relayed lines")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	override(&cfg.Server.Listen, *listen)
	override(&cfg.Server.HTTP, *httpAddr)
	override(&cfg.Server.BinlogDir, *binlogPath)
	override(&cfg.Server.LogFile, *logFile)

	if cfg.Server.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			LocalTime:  true,
		}
		defer lj.Close()
		monitoring.SetOutput(io.MultiWriter(os.Stderr, lj))
	}
	monitoring.SetVerbose(*verbose)

	factory, err := cfg.Factory()
	if err != nil {
		log.Fatalf("Failed to build pre-integrator: %v", err)
	}
	log.Printf("Pre-integration: %s, gyro noise density %g", factory.Kind(), cfg.IMU.GyroNoiseDensity)

	udpSvr := server.NewUDPServer(factory, cfg.Server.BufferCapacity, cfg.IMU.GyroBiasVec())
	if err := udpSvr.Listen(cfg.Server.Listen); err != nil {
		log.Fatalf("Failed to create UDP server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var webSvr *web.Server
	if cfg.Server.HTTP != "" {
		webSvr = web.NewServer(udpSvr.Snapshot)
		udpSvr.SetWebHub(webSvr.Hub)
		go func() {
			if err := webSvr.Start(ctx, cfg.Server.HTTP, *distDir, *configPath); err != nil {
				log.Fatalf("HTTP server error: %v", err)
			}
		}()
	}

	if len(cfg.Relay) > 0 {
		sender := relay.NewSender()
		sender.SetHeader(*header)
		for _, r := range cfg.Relay {
			if strings.EqualFold(r.Type, "tcp") {
				sender.AddTCPSender(r.Address(), r.Mask)
				log.Printf("Added relay TCP sender: %s (mask %x)", r.Address(), r.Mask)
			} else if err := sender.AddUDPSender(r.Address(), r.Mask); err != nil {
				log.Fatalf("Failed to add relay UDP sender %s: %v", r.Address(), err)
			} else {
				log.Printf("Added relay UDP sender: %s (mask %x)", r.Address(), r.Mask)
			}
		}
		if err := sender.Start(); err != nil {
			log.Fatalf("Failed to start relay: %v", err)
		}
		udpSvr.SetRelaySender(sender)
		defer sender.Stop()
	}

	if cfg.Server.BinlogDir != "" {
		path := cfg.Server.BinlogDir
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, fmt.Sprintf("IMUBIN_%s.pcap", time.Now().Format("20060102150405")))
		}
		pw, err := binlog.NewWriter(path)
		if err != nil {
			log.Fatalf("Failed to create binlog writer: %v", err)
		}
		defer pw.Close()
		if doc, err := yaml.Marshal(cfg); err == nil {
			if err := pw.WriteConfig(doc); err != nil {
				log.Printf("Failed to record configuration: %v", err)
			}
		}
		udpSvr.SetBinlogWriter(pw)
		log.Printf("Logging packets to %s", path)
	}

	go udpSvr.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	udpSvr.Stop()
	cancel()
	if webSvr != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		webSvr.Shutdown(shutdownCtx)
	}
	st := udpSvr.Stats()
	log.Printf("Packets %d, frames %d, keyframes %d, errors %d", st.Packets, st.Frames, st.Keyframes, st.Errors)
}

func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}
