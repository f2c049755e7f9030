package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/metrics"
	"github.com/gosuda/boardsync/internal/render"
)

var watchMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch <boardID>",
	Short: "Render a board live",
	Long: `Render a board and redraw it on every change until interrupted.

The connection indicator shows whether live updates are flowing. After a
reconnect the board is reloaded in full, so nothing missed while offline
stays missing.

Examples:
  # Watch board 12
  boardsync watch 12

  # Also expose Prometheus metrics
  boardsync watch 12 --metrics-addr :9100`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	boardID, err := parseID(args[0], "board")
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if watchMetricsAddr != "" {
		m = metrics.New()
		srv := &http.Server{Addr: watchMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("boardsync: metrics server")
			}
		}()
		defer srv.Close()
	}

	b, err := login(ctx)
	if err != nil {
		return err
	}
	view, err := b.opener(m).OpenBoard(ctx, boardID)
	if err != nil {
		return err
	}
	defer view.Close()

	for u := range view.Updates() {
		// Clear the screen and home the cursor before each frame.
		fmt.Fprint(os.Stdout, "\033[H\033[2J")
		render.Board(os.Stdout, u)
	}
	return nil
}
