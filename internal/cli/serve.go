package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/esp32-tools/memharness/internal/api"
	"github.com/esp32-tools/memharness/internal/config"
)

var (
	serveRoot string
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run artifacts over HTTP",
	Long: `Serve the run directories under an artifacts root: summaries, mem rows
(JSON or msgpack), re-derived metrics, run comparisons and a websocket tail
of serial.log.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveRoot, "root", config.DefaultConfig().OutDir, "Artifacts root holding the run directories")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8089", "Listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	e := api.NewServer(&api.Dependencies{Root: serveRoot, Version: Version})

	// No write timeout: the serial tail websocket is long-lived.
	s := &http.Server{
		Addr:        serveAddr,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "[API] Serving %s on http://%s\n", serveRoot, serveAddr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return withCode(ExitFailure, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return withCode(ExitFailure, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "[API] Server stopped")
	return nil
}
