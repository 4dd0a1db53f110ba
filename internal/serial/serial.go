// Package serial provides raw byte access to the device's serial console.
package serial

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultPollInterval bounds how long a single Read waits for data.
const DefaultPollInterval = 100 * time.Millisecond

var (
	// ErrNoPort is returned by AutoDetect when no candidate device node exists.
	ErrNoPort = errors.New("no serial port found")
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("serial port closed")
)

// AutoDetectCandidates are probed in order by AutoDetect.
var AutoDetectCandidates = []string{"/dev/ttyACM0", "/dev/ttyUSB0"}

// Transport is the read side of a serial console. Read returns (0, nil)
// when no data arrived within one poll interval.
type Transport interface {
	Read(p []byte) (int, error)
	Close() error
	Name() string
}

// AutoDetect returns the first existing candidate device node.
func AutoDetect() (string, error) {
	for _, p := range AutoDetectCandidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (tried %v)", ErrNoPort, AutoDetectCandidates)
}
