package monitoring

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("keyframe %d", 3)
	assert.Equal(t, []string{"keyframe 3"}, *lines)

	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, *lines, 1)
}

func TestDebugf(t *testing.T) {
	lines := capture(t)
	t.Cleanup(func() { SetVerbose(false) })

	Debugf("hidden")
	SetVerbose(true)
	Debugf("round %d", 1)
	assert.Equal(t, []string{"round 1"}, *lines)
}

func TestSetOutput(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	var buf bytes.Buffer
	SetOutput(&buf)
	log.Print("to buffer")
	assert.Contains(t, buf.String(), "to buffer")
}
