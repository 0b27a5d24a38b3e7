package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bbcompare/internal/api"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the comparison HTTP API until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		logger, _ := zap.NewProduction()
		defer logger.Sync()

		st, err := buildStack(logger)
		if err != nil {
			logger.Fatal("could not build comparison stack", zap.Error(err))
		}
		defer st.Close()

		server := api.NewServer(st.cfg, st.orch, st.results, st.metrics, logger)

		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("could not start server", zap.Error(err))
			}
		}()

		logger.Info("server started", zap.String("port", st.cfg.ServerPort))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Fatal("server forced to shutdown", zap.Error(err))
		}

		logger.Info("server exiting")
	},
}
