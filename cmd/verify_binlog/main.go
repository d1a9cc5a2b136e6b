package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"vio-engine-go/binlog"
	"vio-engine-go/protocol"
)

func main() {
	file1 := flag.String("1", "", "Original binary log")
	file2 := flag.String("2", "", "Replayed binary log")
	flag.Parse()

	if *file1 == "" || *file2 == "" {
		log.Fatal("Usage: verify_binlog -1 <original> -2 <replayed>")
	}

	pkts1, err := binlog.ReadPayloads(*file1)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file1, err)
	}
	pkts2, err := binlog.ReadPayloads(*file2)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file2, err)
	}

	fmt.Printf("Original: %d packets, %d frames\n", len(pkts1), countFrames(pkts1))
	fmt.Printf("Replayed: %d packets, %d frames\n", len(pkts2), countFrames(pkts2))

	mismatches := 0
	for i := 0; i < min(len(pkts1), len(pkts2)); i++ {
		if !bytes.Equal(pkts1[i], pkts2[i]) {
			fmt.Printf("Mismatch at packet %d: len1=%d len2=%d\n", i, len(pkts1[i]), len(pkts2[i]))
			mismatches++
			if mismatches > 10 {
				fmt.Println("Too many mismatches, stopping.")
				break
			}
		}
	}
	if len(pkts1) != len(pkts2) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(pkts1), len(pkts2))
		mismatches++
	}

	if mismatches == 0 {
		fmt.Println("SUCCESS: All payloads match.")
	} else {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
}

func countFrames(pkts [][]byte) int {
	n := 0
	for _, p := range pkts {
		frames, _ := protocol.Decode(p, true)
		n += len(frames)
	}
	return n
}
