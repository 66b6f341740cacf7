package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daglabs/ticketwright/internal/llm"
	"github.com/daglabs/ticketwright/internal/worker"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Worker command flags
var (
	workerAgentID string
	workerProject string
	workerWorkDir string
)

func init() {
	workerRunCmd.Flags().StringVar(&workerAgentID, "agent-id", "", "Unique id this worker claims and heartbeats under (default: config default_worker_id, else hostname plus random suffix)")
	workerRunCmd.Flags().StringVarP(&workerProject, "project", "p", "", "Project key to claim tickets from (default: config default_project, else any project)")
	workerRunCmd.Flags().StringVar(&workerWorkDir, "workdir", "", "Directory to check out ticket workspaces into (default: ~/.ticketwright/work)")

	workerCmd.AddCommand(workerRunCmd)
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run and manage autonomous coding-agent workers",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an autonomous coding-agent worker",
	Long: `Run a worker process that polls the orchestrator API for claimable
tickets, generates a candidate via the configured LLM, materializes and
validates the result, retries with structured feedback on failure, and
opens a pull request on success.

The worker finishes its current ticket before exiting on SIGINT/SIGTERM.

Examples:
  ticketwright worker run                          # poll any project
  ticketwright worker run --project BACKEND         # only BACKEND tickets
  ticketwright worker run --agent-id worker-3`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	agentID := workerAgentID
	if agentID == "" {
		agentID = GetDefaultWorkerID()
	}
	if agentID == "" {
		agentID = defaultAgentID()
	}

	agentKey := os.Getenv(cfg.AgentKeyEnv)
	if agentKey == "" {
		return fmt.Errorf("environment variable %s must be set with the shared agent key", cfg.AgentKeyEnv)
	}

	apiKey := os.Getenv(cfg.LLMAPIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("environment variable %s must be set with the LLM provider API key", cfg.LLMAPIKeyEnv)
	}

	githubToken := os.Getenv(cfg.GitHubTokenEnv)
	if githubToken == "" {
		return fmt.Errorf("environment variable %s must be set with a GitHub token", cfg.GitHubTokenEnv)
	}

	logger, err := newZapLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	workDir := workerWorkDir
	if workDir == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return fmt.Errorf("failed to resolve home directory: %w", herr)
		}
		workDir = home + "/.ticketwright/work"
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	llmClient := llm.New(apiKey, logger)

	rt := worker.New(worker.Config{
		AgentID:             agentID,
		ProjectKey:          GetProjectWithDefault(workerProject),
		OrchestratorURL:     cfg.OrchestratorURL,
		AgentKey:            agentKey,
		GitHubToken:         githubToken,
		PollInterval:        cfg.PollInterval(),
		HeartbeatPeriod:     cfg.HeartbeatPeriod(),
		MaxInternalAttempts: cfg.MaxInternalAttempts,
		MaxFileLines:        cfg.MaxFileLines,
		ValidationTimeout:   cfg.ValidationTimeout(),
		DefaultBaseBranch:   cfg.BaseBranch,
		WorkspaceDir:        workDir,
		DefaultModel:        cfg.WorkerModel,
		ScopeToModelMap:     cfg.ScopeToModelMap,
		Logger:              logger,
	}, llmClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		OutputLine("\nFinishing current ticket, then shutting down...")
		cancel()
	}()

	OutputLine("worker %s polling %s", agentID, cfg.OrchestratorURL)
	return rt.Run(ctx)
}

// defaultAgentID synthesizes an agent id from the hostname and a random
// suffix when none is given explicitly, so two workers on the same box
// (or a restarted VM reusing a pid) never collide.
func defaultAgentID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
