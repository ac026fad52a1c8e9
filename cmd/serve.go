package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/internal/app"
	"github.com/Zerofisher/anxun/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serve the JSON API used by web front ends: file analysis, live capture,
chat (plain and server-sent events), history and system status.`,
	Example: `  anxun serve
  anxun serve --listen 127.0.0.1:8080`,
	GroupID: "service",
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config, :5000)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.ListenAddr = serveListen
	}
	logger := newLogger(cfg)

	svc, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := server.New(svc,
		server.WithLogger(logger),
		server.WithMaxUpload(int64(cfg.Server.MaxUploadMB)<<20),
		server.WithTempDir(cfg.Tshark.TempDir),
		server.WithSlowThresholds(cfg.Server.SlowCall.Std(), cfg.Server.VerySlow.Std()),
	)
	return srv.ListenAndServe(ctx, cfg.Server.ListenAddr)
}
