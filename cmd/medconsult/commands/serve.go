package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/medconsult/pkg/consult/server"
	"github.com/randalmurphal/medconsult/pkg/consult/speech"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the consultation HTTP server",
	Long: `Start the HTTP server exposing consultations over REST and WebSocket,
plus speech transcription and synthesis when speech.base_url is configured.
Prometheus metrics are served on /metrics.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := a.server()
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, cfg.Server.Addr())
}

// server builds the HTTP server over the app's engine.
func (a *app) server() (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(a.logger.Logger),
		server.WithMetrics(a.metrics, a.registry),
		server.WithMaxAudioBytes(a.cfg.Server.MaxAudioBytes),
		server.WithShutdownTimeout(a.cfg.Server.ShutdownTimeout),
	}
	if a.cfg.Speech.BaseURL != "" {
		voice, err := speech.NewOpenAI(a.cfg.Speech)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithSpeech(
			speech.NewSafeTranscriber(voice, a.slog),
			speech.NewSafeSynthesizer(voice, a.slog),
			a.cfg.Speech.Format,
		))
	}
	return server.New(a.engine, opts...), nil
}

// cmdContext is cmd.Context with a fallback for direct calls in tests.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
