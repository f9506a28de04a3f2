package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daxia778/tg-monitor/internal/config"
	"github.com/daxia778/tg-monitor/internal/jobs"
	"github.com/daxia778/tg-monitor/internal/store"
)

func statusCmd() *cobra.Command {
	var hours float64
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print tenant, group, and recent-activity status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.Open(ctx, cfg.Database.Path, log)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			out := cmd.OutOrStdout()

			if jobID != "" {
				job, ok, err := jobs.New(st).Get(ctx, jobID)
				if err != nil {
					return fmt.Errorf("get job: %w", err)
				}
				if !ok {
					fmt.Fprintf(out, "job %s: not found\n", jobID)
					return nil
				}
				fmt.Fprintf(out, "job %s: %s (%d%%) %s\n", jobID, job.Status.String, job.Progress, job.ProgressText.String)
				if job.Status.String == "done" {
					fmt.Fprintf(out, "\n%s\n", job.Result.String)
				}
				if job.Status.String == "error" {
					fmt.Fprintf(out, "error: %s\n", job.ErrorMsg.String)
				}
				return nil
			}

			tenants, err := st.GetTenants(ctx, false)
			if err != nil {
				return fmt.Errorf("get tenants: %w", err)
			}
			fmt.Fprintf(out, "tenants (%d):\n", len(tenants))
			for _, t := range tenants {
				state := "inactive"
				if t.IsActive {
					state = "active"
				}
				fmt.Fprintf(out, "  #%d %-12s %s\n", t.ID, state, t.SessionName)
			}

			groups, err := st.GetGroups(ctx)
			if err != nil {
				return fmt.Errorf("get groups: %w", err)
			}
			fmt.Fprintf(out, "\ngroups (%d):\n", len(groups))
			for _, g := range groups {
				fmt.Fprintf(out, "  %-20d %s\n", g.ID, g.Title)
			}

			since := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour))).Format(time.RFC3339)
			stats, err := st.GetStats(ctx, since, "")
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			fmt.Fprintf(out, "\nactivity, last %.0fh:\n", hours)
			if len(stats) == 0 {
				fmt.Fprintln(out, "  no messages in this window")
			}
			for _, s := range stats {
				title := fmt.Sprintf("group %d", s.GroupID)
				if s.GroupTitle.Valid {
					title = s.GroupTitle.String
				}
				fmt.Fprintf(out, "  %-25s %6d msgs  %4d active users\n", title, s.MessageCount, s.ActiveUsers)
			}

			return nil
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 24, "activity window in hours")
	cmd.Flags().StringVar(&jobID, "job", "", "look up a summarize job by id instead of printing general status")
	return cmd
}
