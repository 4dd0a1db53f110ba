//go:build linux

package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/esp32-tools/memharness/internal/config"
)

var baudFlags = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// Port is a termios serial device opened in raw 8N1 mode.
type Port struct {
	mu           sync.Mutex
	fd           int
	name         string
	closed       bool
	pollInterval time.Duration
}

// Open opens path at baud: 8 data bits, no parity, one stop bit, no flow
// control, no canonical processing, no signals, no echo.
func Open(path string, baud int) (*Port, error) {
	speed, ok := baudFlags[baud]
	if !ok {
		return nil, fmt.Errorf("%w: %d", config.ErrUnsupportedBaud, baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reading termios of %s: %w", path, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("configuring termios of %s: %w", path, err)
	}

	return &Port{fd: fd, name: path, pollInterval: DefaultPollInterval}, nil
}

// Name returns the device path.
func (p *Port) Name() string {
	return p.name
}

// Read waits up to one poll interval for data. Timeouts, EAGAIN, EINTR
// and hangups are reported as (0, nil) so the caller retries.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	fd, closed := p.fd, p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(p.pollInterval/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("polling %s: %w", p.name, err)
	}
	if n == 0 {
		return 0, nil
	}

	rev := fds[0].Revents
	if rev&unix.POLLNVAL != 0 {
		return 0, ErrClosed
	}
	if rev&unix.POLLIN == 0 {
		// Hangup without data: the device is resetting its USB link.
		time.Sleep(p.pollInterval)
		return 0, nil
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.EIO) {
			return 0, nil
		}
		if errors.Is(err, unix.EBADF) {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("reading %s: %w", p.name, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Close releases the file descriptor. It is safe to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}
