// Package commands implements the jobctl admin CLI.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/genqueue/internal/config"
	"github.com/cuongbtq/genqueue/internal/jobs"
	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/storage"
	"github.com/cuongbtq/genqueue/migrations"
	"github.com/cuongbtq/genqueue/shared/logger"
	"github.com/cuongbtq/genqueue/shared/postgresql"
)

// flag names
const (
	flagConfig = "config"
)

// environment variable names
const (
	envConfigPath = "JOBCTL_CONFIG_PATH"
)

const defaultConfigPath = "configs/api-service/config.yaml"

// Backend is what the commands operate on
type Backend struct {
	Queue queue.Service
	// Handlers run a single job in-process for the process command.
	Handlers jobs.Registry
	// Migrate applies (or with down, rolls back) the schema migrations.
	Migrate func(down bool) error
	Close   func()
}

// Opener builds a Backend from the config file at configPath
type Opener func(configPath string) (*Backend, error)

// OpenBackend connects to the database described by the config file
func OpenBackend(configPath string) (*Backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Logs go to stderr so stdout stays machine readable.
	loggerCfg := cfg.LoggerConfig()
	loggerCfg.Output = "stderr"
	appLogger, err := logger.New(loggerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dbClient, err := postgresql.NewClient(cfg.PostgresConfig(), appLogger.Logger)
	if err != nil {
		appLogger.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	simulator := &jobs.Simulator{
		Delay:           cfg.Worker.SimulatedDelay,
		ArtifactBaseURL: cfg.Worker.ArtifactBaseURL,
	}

	return &Backend{
		Queue: queue.NewService(&queue.Config{
			Store:  storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
			Logger: appLogger.Logger,
		}),
		Handlers: simulator.Registry(),
		Migrate: func(down bool) error {
			if down {
				return dbClient.MigrateDown(migrations.FS)
			}
			return dbClient.Migrate(migrations.FS)
		},
		Close: func() {
			dbClient.Close()
			appLogger.Close()
		},
	}, nil
}

type cli struct {
	open       Opener
	configPath string
}

type runFunc func(cmd *cobra.Command, args []string, b *Backend) error

// withBackend opens the backend for one command run and closes it however
// the command returns.
func (c *cli) withBackend(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		b, err := c.open(c.configPath)
		if err != nil {
			return err
		}
		if b.Close != nil {
			defer b.Close()
		}
		return fn(cmd, args, b)
	}
}

// NewRootCmd builds the jobctl command tree. open is called by each
// subcommand once its flags are parsed.
func NewRootCmd(open Opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "jobctl",
		Short: "jobctl - administer the generation job queue",
		Long: `jobctl inspects and manages the jobs table directly: enqueue and look up jobs,
run a pending job in-process, delete jobs, fail stale processing jobs and run
schema migrations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed(flagConfig) {
				if envPath := os.Getenv(envConfigPath); envPath != "" {
					c.configPath = envPath
				}
			}
			if c.configPath == "" {
				return fmt.Errorf("config path cannot be empty")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, flagConfig, "c", defaultConfigPath, "Path to configuration file (env: "+envConfigPath+")")

	root.AddCommand(
		c.enqueueCmd(),
		c.getCmd(),
		c.listCmd(),
		c.activeCmd(),
		c.deleteCmd(),
		c.processCmd(),
		c.sweepCmd(),
		c.migrateCmd(),
	)

	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(prettyJSON))
	return nil
}
