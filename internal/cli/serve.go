package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daglabs/ticketwright/internal/claimsvc"
	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Serve command flags
var (
	servePort int
	serveHost string
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 18080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host address to bind to")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the worker-facing HTTP API",
	Long: `Start the HTTP API that workers poll for claims, heartbeats, status
updates, completion reports, and activity log entries.

Examples:
  ticketwright serve                    # Start on default port 18080
  ticketwright serve --port 8080        # Start on custom port
  ticketwright serve --host 0.0.0.0     # Bind to all interfaces`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	database, err := db.Open(GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	logger, err := newZapLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	agentKey := os.Getenv(cfg.AgentKeyEnv)
	if agentKey == "" {
		logger.Warn("agent key env var not set, worker-facing API is unauthenticated",
			zap.String("env_var", cfg.AgentKeyEnv))
	}

	config := server.Config{
		Port:     servePort,
		Host:     serveHost,
		DB:       database.DB,
		AgentKey: agentKey,
		Logger:   logger,
	}

	srv, err := server.New(config)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()

	// Reclaim sweep runs no faster than one pass per TTL/4.
	sweepInterval := cfg.ClaimTTL() / 4
	if sweepInterval < time.Second {
		sweepInterval = time.Second
	}
	claims := claimsvc.New(database.DB)
	go claims.RunDaemon(sweepCtx, sweepInterval, func(result *claimsvc.ReclaimSweepResult) {
		if result.Processed == 0 {
			return
		}
		logger.Info("reclaim sweep",
			zap.Int("processed", result.Processed),
			zap.Int("reclaimed", result.Reclaimed),
			zap.Int("quarantined", result.Quarantined),
			zap.Int("errors", result.Errors))
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	OutputLine("ticketwright API listening at http://%s", srv.Address())
	OutputLine("Press Ctrl+C to stop")

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-stop:
		OutputLine("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	OutputLine("Server stopped")
	return nil
}

// newZapLogger builds the production zap logger used by server and worker
// commands. IsVerbose raises the level to debug.
func newZapLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if IsVerbose() {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	if IsQuiet() {
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
