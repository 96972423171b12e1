package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/genqueue/internal/jobs"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

func (c *cli) enqueueCmd() *cobra.Command {
	var jobType, owner, payload string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a new pending job",
		RunE: c.withBackend(func(cmd *cobra.Command, _ []string, b *Backend) error {
			raw := json.RawMessage(payload)
			if err := jobs.ValidatePayload(domain.JobType(jobType), raw); err != nil {
				return err
			}

			job, err := b.Queue.Enqueue(cmd.Context(), domain.JobType(jobType), raw, owner)
			if err != nil {
				return fmt.Errorf("error enqueueing job: %w", err)
			}
			return printJSON(cmd, job)
		}),
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Job type")
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner id recorded as created_by")
	cmd.Flags().StringVarP(&payload, "payload", "p", "{}", "Job payload as JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Get a specific job",
		Args:  cobra.ExactArgs(1),
		RunE: c.withBackend(func(cmd *cobra.Command, args []string, b *Backend) error {
			job, err := b.Queue.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error fetching job: %w", err)
			}
			return printJSON(cmd, job)
		}),
	}
}

func (c *cli) listCmd() *cobra.Command {
	var owner, jobType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's jobs, oldest first",
		RunE: c.withBackend(func(cmd *cobra.Command, _ []string, b *Backend) error {
			list, err := b.Queue.GetJobsByOwner(cmd.Context(), owner, domain.JobType(jobType))
			if err != nil {
				return fmt.Errorf("error listing jobs: %w", err)
			}
			return printJSON(cmd, list)
		}),
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner id")
	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Only list jobs of this type")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func (c *cli) activeCmd() *cobra.Command {
	var jobType, key, value string

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Find the pending or processing job whose payload field matches",
		RunE: c.withBackend(func(cmd *cobra.Command, _ []string, b *Backend) error {
			job, err := b.Queue.FindPendingOrActive(cmd.Context(), domain.JobType(jobType), key, value)
			if err != nil {
				return fmt.Errorf("error finding active job: %w", err)
			}
			if job == nil {
				return fmt.Errorf("no active %s job with %s=%s", jobType, key, value)
			}
			return printJSON(cmd, job)
		}),
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Job type")
	cmd.Flags().StringVarP(&key, "key", "k", jobs.CorrelationKey, "Payload field")
	cmd.Flags().StringVarP(&value, "value", "v", "", "Payload field value")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job regardless of its status",
		Args:  cobra.ExactArgs(1),
		RunE: c.withBackend(func(cmd *cobra.Command, args []string, b *Backend) error {
			if err := b.Queue.DeleteJob(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("error deleting job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}

func (c *cli) processCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "process <job-id>",
		Short: "Run a pending job in this process and print the finished job",
		Args:  cobra.ExactArgs(1),
		RunE: c.withBackend(func(cmd *cobra.Command, args []string, b *Backend) error {
			job, err := b.Queue.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error fetching job: %w", err)
			}
			handler, ok := b.Handlers.Handler(job.Type)
			if !ok {
				return fmt.Errorf("no handler registered for job type %q", job.Type)
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			processed, err := b.Queue.ProcessJobByID(ctx, job.ID, handler)
			if err != nil {
				return fmt.Errorf("error processing job: %w", err)
			}
			return printJSON(cmd, processed)
		}),
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the handler after this long (0 disables)")

	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs that have been processing longer than --max-age",
		RunE: c.withBackend(func(cmd *cobra.Command, _ []string, b *Backend) error {
			reaped, err := b.Queue.FailStaleJobs(cmd.Context(), maxAge)
			if err != nil {
				return fmt.Errorf("error sweeping stale jobs: %w", err)
			}
			return printJSON(cmd, reaped)
		}),
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 30*time.Minute, "Processing time after which a job is failed")

	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the jobs table migrations",
		RunE: c.withBackend(func(cmd *cobra.Command, _ []string, b *Backend) error {
			if err := b.Migrate(down); err != nil {
				return err
			}
			if down {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration instead")

	return cmd
}
