package main

import (
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/relay"
	"vio-engine-go/so3"
)

// relay_sender emits synthetic keyframe and pose lines to exercise downstream
// consumers.
func main() {
	udpAddr := flag.String("udp", "127.0.0.1:5555", "UDP destination (keyframes and steps)")
	tcpAddr := flag.String("tcp", "127.0.0.1:6666", "TCP destination (poses)")
	header := flag.String("hdr", "VIO", "Header string")
	period := flag.Duration("period", time.Second, "Interval between messages")
	flag.Parse()

	sender := relay.NewSender()
	sender.SetHeader(*header)
	if err := sender.AddUDPSender(*udpAddr, relay.FlagKeyframe|relay.FlagStep); err != nil {
		log.Fatalf("Failed to add UDP sender: %v", err)
	}
	sender.AddTCPSender(*tcpAddr, relay.FlagPose)
	if err := sender.Start(); err != nil {
		log.Fatalf("Failed to start sender: %v", err)
	}
	defer sender.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(*period)
	defer ticker.Stop()
	log.Println("Sender started. Press Ctrl+C to exit.")

	cov := so3.Diag(1e-6, 1e-6, 1e-6)
	for seq := uint16(0); ; seq++ {
		t := float64(seq) * period.Seconds()
		step := so3.Exp(r3.Vec{Z: 0.1})
		pose := so3.Transform{R: so3.Exp(r3.Vec{Z: 0.1 * float64(seq)}), T: r3.Vec{X: math.Cos(t), Y: math.Sin(t)}}

		// keyframes and steps go to UDP, poses to TCP
		sender.Send(relay.FormatKeyframe(1, seq, t, step, cov), relay.FlagKeyframe)
		sender.Send(relay.FormatPose(1, seq, t, pose), relay.FlagPose)
		sender.Send(relay.FormatStep(1, seq, t, pose.R), relay.FlagStep)

		select {
		case <-sig:
			sent, dropped := sender.Stats()
			log.Printf("Sent %d, dropped %d", sent, dropped)
			return
		case <-ticker.C:
		}
	}
}
