package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/duramation/duramation/internal/server"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config, err := LoadConfig()
	if err != nil {
		return err
	}

	container, err := NewContainer(ctx, config)
	if err != nil {
		return err
	}

	app := server.NewHTTPServer(ctx, container.ServerDeps)

	go func() {
		<-ctx.Done()

		log.Info().Msg("Shutting down HTTP server")

		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Failed to shut down HTTP server")
		}
	}()

	log.Info().Str("address", config.HTTPAddress).Msg("Starting HTTP server")

	return app.Listen(config.HTTPAddress)
}
