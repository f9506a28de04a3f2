package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daxia778/tg-monitor/internal/config"
	"github.com/daxia778/tg-monitor/internal/jobs"
	"github.com/daxia778/tg-monitor/internal/llm"
	"github.com/daxia778/tg-monitor/internal/store"
	"github.com/daxia778/tg-monitor/internal/summarizer"
)

func summarizeCmd() *cobra.Command {
	var (
		groupID  int64
		since    string
		until    string
		hours    float64
		save     bool
		perGroup bool
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Generate an LLM digest over a window of ingested messages",
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

			client := llm.NewClient(cfg.AI.APIURL)
			pool := llm.NewPool(client, llm.PoolConfig{
				Keys:              cfg.AI.Keys(),
				PerKeyConcurrency: cfg.AI.MaxConcurrentPerKey,
				PerKeyRPS:         cfg.AI.PerKeyRPS,
				Model:             cfg.AI.Model,
				MaxTokens:         cfg.AI.MaxTokens,
			}, log)
			summ := summarizer.New(st, pool, "", cfg.AI.Model, log)
			registry := jobs.New(st)

			mode := "quick"
			var gidPtr *int64
			switch {
			case perGroup:
				mode = "per_group"
			case groupID != 0:
				gid := groupID
				gidPtr = &gid
			}

			jobID, err := registry.Start(ctx, gidPtr, int(hours), mode)
			if err != nil {
				return fmt.Errorf("start job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s started\n", jobID)

			progress := func(text string, step, total int) {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %s\n", step, total, text)
				pct := 0
				if total > 0 {
					pct = step * 100 / total
				}
				if perr := registry.Progress(ctx, jobID, pct, text); perr != nil {
					log.Warn("job progress update failed", "job_id", jobID, "error", perr)
				}
			}

			var out string
			switch {
			case perGroup:
				out, err = summ.SummarizePerGroup(ctx, hours, save, progress)
			case groupID != 0:
				gid := groupID
				out, err = summ.Summarize(ctx, &gid, since, until, hours, save, progress)
			default:
				out, err = summ.Summarize(ctx, nil, since, until, hours, save, progress)
			}
			if err != nil {
				if ferr := registry.Fail(ctx, jobID, err.Error()); ferr != nil {
					log.Warn("job fail update failed", "job_id", jobID, "error", ferr)
				}
				return err
			}
			if cerr := registry.Complete(ctx, jobID, out); cerr != nil {
				log.Warn("job complete update failed", "job_id", jobID, "error", cerr)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "")
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().Int64Var(&groupID, "group", 0, "restrict to a single group id")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 start of window")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 end of window")
	cmd.Flags().Float64Var(&hours, "hours", 24, "trailing window size in hours, used when --since is empty")
	cmd.Flags().BoolVar(&save, "save", false, "persist the result to the summaries table")
	cmd.Flags().BoolVar(&perGroup, "per-group", false, "produce one cross-group report instead of a single digest")

	return cmd
}
