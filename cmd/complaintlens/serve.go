package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/complaintlens/internal/mcp"
	"github.com/dshills/complaintlens/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start the Model Context Protocol server. Requests arrive on stdin and responses
are written to stdout; logs go to stderr.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("complaintlens starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName))

	server, err := mcp.NewServer(mcp.Deps{
		Storage:           a.store,
		Ingest:            a.ingest,
		Pipeline:          a.pipeline,
		Orchestrator:      a.orchestrator,
		Projector:         a.projector,
		Tasks:             a.tasks,
		ClusterDefaults:   a.clusterParams(),
		DefaultPerplexity: a.cfg.Clustering.Perplexity,
		Logger:            a.logger.Named("mcp"),
	})
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		return nil
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}
