package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/model"
)

var submitFlags struct {
	user     string
	kind     string
	leadID   string
	domain   string
	email    string
	icpID    string
	priority int
	config   string
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Enqueue a job",
	Long:  "Enqueues one job of the given type. Per-type parameters are passed as a JSON object via --config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		kind := model.JobKind(submitFlags.kind)
		jobCfg, err := model.ConfigForKind(kind)
		if err != nil {
			return err
		}
		if submitFlags.config != "" {
			if err := json.Unmarshal([]byte(submitFlags.config), jobCfg); err != nil {
				return eris.Wrapf(err, "parse --config for %s", kind)
			}
		}

		// --email fills both the target and the config for verify_email.
		if vc, ok := jobCfg.(*model.VerifyEmailConfig); ok && vc.Email == "" {
			vc.Email = submitFlags.email
		}

		job := &model.Job{
			UserID:   submitFlags.user,
			Kind:     kind,
			Priority: submitFlags.priority,
			Target: model.JobTarget{
				LeadID:        submitFlags.leadID,
				CompanyDomain: submitFlags.domain,
				Email:         submitFlags.email,
				ICPID:         submitFlags.icpID,
			},
			Config: jobCfg,
		}
		if err := env.Queue.Submit(ctx, job); err != nil {
			return err
		}

		fmt.Printf("job %s enqueued (%s)\n", job.ID, job.Kind)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitFlags.user, "user", "", "user ID (required)")
	submitCmd.Flags().StringVar(&submitFlags.kind, "type", "", "job type (required)")
	submitCmd.Flags().StringVar(&submitFlags.leadID, "lead", "", "target lead ID")
	submitCmd.Flags().StringVar(&submitFlags.domain, "domain", "", "target company domain")
	submitCmd.Flags().StringVar(&submitFlags.email, "email", "", "target email address")
	submitCmd.Flags().StringVar(&submitFlags.icpID, "icp", "", "ICP profile ID")
	submitCmd.Flags().IntVar(&submitFlags.priority, "priority", 0, "queue priority (higher first)")
	submitCmd.Flags().StringVar(&submitFlags.config, "config", "", "per-type parameters as JSON")
	_ = submitCmd.MarkFlagRequired("user")
	_ = submitCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(submitCmd)
}
