package device

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/esp32-tools/memharness/internal/models"
)

// FireAndForget writes a request to the device and closes the connection
// without reading a response. The device reboots inside the handler, so
// a response may never arrive.
func (c *Client) FireAndForget(ctx context.Context, method, path string) error {
	if c.Host() == "" {
		return ErrNoIP
	}
	url := c.URL(path)
	err := c.fireAndForget(ctx, method, url)

	if c.journal != nil {
		ev := models.HTTPEvent{
			TS:     time.Now().UTC(),
			Type:   models.EventHTTP,
			Method: method,
			URL:    url,
			Mode:   "fire_and_forget",
		}
		if err != nil {
			ev.Error = err.Error()
		}
		if jerr := c.journal.AppendEvent(ev); jerr != nil {
			fmt.Fprintf(c.log, "[http] journal write failed: %v\n", jerr)
		}
	}
	return err
}

func (c *Client) fireAndForget(ctx context.Context, method, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.rebootTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", c.userAgent)
	req.Close = true
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "80")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if err := req.Write(conn); err != nil {
		return fmt.Errorf("sending %s %s: %w", method, url, err)
	}
	return nil
}

// Reboot asks the device to restart.
func (c *Client) Reboot(ctx context.Context) error {
	return c.FireAndForget(ctx, http.MethodPost, "/api/reboot")
}
