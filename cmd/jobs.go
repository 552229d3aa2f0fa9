package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

var jobsFlags struct {
	user   string
	status string
	kind   string
	leadID string
	limit  int
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Queue.List(ctx, jobsFlags.user, store.JobFilter{
			Status: model.JobStatus(jobsFlags.status),
			Kind:   model.JobKind(jobsFlags.kind),
			LeadID: jobsFlags.leadID,
			Limit:  jobsFlags.limit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tATTEMPTS\tSCHEDULED\tERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				j.ID, j.Kind, j.Status, j.AttemptCount, j.MaxAttempts,
				j.ScheduledAt.Format("2006-01-02 15:04:05"), j.ErrorMessage)
		}
		return w.Flush()
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job with its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Queue.Get(ctx, jobsFlags.user, args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsFlags.user, "user", "", "user ID (required)")
	jobsCmd.Flags().StringVar(&jobsFlags.status, "status", "", "filter by status")
	jobsCmd.Flags().StringVar(&jobsFlags.kind, "type", "", "filter by job type")
	jobsCmd.Flags().StringVar(&jobsFlags.leadID, "lead", "", "filter by lead ID")
	jobsCmd.Flags().IntVar(&jobsFlags.limit, "limit", 50, "max rows")
	_ = jobsCmd.MarkPersistentFlagRequired("user")
	jobsCmd.AddCommand(jobStatusCmd)
	rootCmd.AddCommand(jobsCmd)
}
