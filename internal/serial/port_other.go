//go:build !linux

package serial

import (
	"errors"
	"fmt"
	"runtime"
)

// Port is unavailable on this platform.
type Port struct{}

// Open always fails outside Linux.
func Open(path string, baud int) (*Port, error) {
	return nil, fmt.Errorf("opening serial port %s: %w", path, errors.New("raw serial is only supported on linux, not "+runtime.GOOS))
}

func (p *Port) Name() string               { return "" }
func (p *Port) Read(buf []byte) (int, error) { return 0, ErrClosed }
func (p *Port) Close() error               { return nil }
