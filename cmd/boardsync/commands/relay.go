package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/metrics"
	"github.com/gosuda/boardsync/internal/relay"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the push-channel relay server",
	Long: `Run the relay that board viewers connect to at /ws/board/<id>/.

Events sent by one viewer are fanned out through Redis to every viewer of
the same board, on every relay instance. The relay also serves /healthz,
/metrics and GET /api/v1/boards/<id>/presence.`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := cfg.ValidateRelay(); err != nil {
		return err
	}

	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	srv := relay.New(ctx, cfg, pubsub, metrics.New(), nil)

	go func() {
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("relay: server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("relay: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("relay: stopped")
	return nil
}
