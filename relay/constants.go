package relay

import "time"

// Message classes. A target receives a message when its mask contains every
// bit of the message flag.
const (
	FlagKeyframe = 1
	FlagStep     = 2
	FlagPose     = 4
)

const (
	tcpQueueSize   = 1000
	dialTimeout    = 2 * time.Second
	writeTimeout   = 5 * time.Second
	reconnectDelay = 500 * time.Millisecond
)
