package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"vio-engine-go/binlog"
	"vio-engine-go/monitoring"
)

// playLog calls fn for every datagram record of the log at path, paced so
// that records are spaced as they were captured divided by speed. A speed of
// zero or less plays as fast as possible.
func playLog(ctx context.Context, path string, speed float64, fn func(binlog.Record) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rd, err := binlog.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	var firstTs float64
	var startReal time.Time
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("%s: %w", path, err)
		}
		if !rec.IsData() {
			continue
		}

		if count == 0 {
			firstTs = rec.Timestamp
			startReal = time.Now()
		} else if speed > 0 {
			target := time.Duration((rec.Timestamp - firstTs) / speed * float64(time.Second))
			if wait := target - time.Since(startReal); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return count, ctx.Err()
				}
			}
		}

		if err := fn(rec); err != nil {
			return count, err
		}
		count++
		if count <= 10 {
			monitoring.Debugf("replay pkt #%d: ts=%.3f len=%d flag=%x", count, rec.Timestamp, len(rec.Payload), rec.Flag)
		}
	}
}

// Replay feeds a recorded log through the server as if the datagrams had
// just arrived. It returns the number of datagrams played.
func (s *UDPServer) Replay(ctx context.Context, path string, speed float64) (int, error) {
	monitoring.Logf("Replaying %s at %.1fx speed...", path, speed)
	n, err := playLog(ctx, path, speed, func(rec binlog.Record) error {
		s.handlePacket(rec.Payload)
		return nil
	})
	monitoring.Logf("Replay ended after %d packets", n)
	return n, err
}

// Forward sends the datagrams of a recorded log to w, typically a connected
// UDP socket. Write errors are logged and skipped.
func Forward(ctx context.Context, path string, w io.Writer, speed float64) (int, error) {
	return playLog(ctx, path, speed, func(rec binlog.Record) error {
		if _, err := w.Write(rec.Payload); err != nil {
			monitoring.Logf("Write error: %v", err)
		}
		return nil
	})
}
